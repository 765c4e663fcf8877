package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/silentline/sentinel/internal/broker/alarm"
	"github.com/silentline/sentinel/internal/broker/api"
	"github.com/silentline/sentinel/internal/broker/channel"
	"github.com/silentline/sentinel/internal/broker/clock"
	"github.com/silentline/sentinel/internal/broker/config"
	"github.com/silentline/sentinel/internal/broker/db"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/ratelimit"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/broker/trigger"
)

const adminKey = "s3cr3t"

type testServer struct {
	*httptest.Server
	store *store.Store
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB))

	st := store.New(sqlDB)
	c := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	q := queue.New(sqlDB, c)
	machine := alarm.New(st, c)

	fakeKV := &noopKV{}
	limiter := ratelimit.New(fakeKV, 1000)
	pipeline := trigger.New(fakeKV, st, q, limiter, c, nil)
	mock := channel.NewMockAdapter()

	httpCfg := config.HTTPConfig{AdminAPIKey: adminKey}
	handler := api.New(httpCfg, st, machine, pipeline, q, mock, c)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return testServer{Server: srv, store: st}
}

// noopKV is a minimal kvReserver/kvIncrementer stand-in: every
// reservation wins and rate limiting never trips, keeping the HTTP
// layer tests focused on routing/auth/serialization.
type noopKV struct{}

func (noopKV) Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (noopKV) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (noopKV) Get(ctx context.Context, key string) (string, error)                 { return "", nil }
func (noopKV) Delete(ctx context.Context, key string) error                        { return nil }
func (noopKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 1, nil
}

func seedDevice(t *testing.T, st *store.Store, token string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateSite(ctx, model.Site{ID: "site-1", Name: "HQ"}))
	require.NoError(t, st.UpsertRoom(ctx, model.Room{ID: "room-1", SiteID: "site-1", Label: "201"}))
	require.NoError(t, st.UpsertPerson(ctx, model.Person{ID: "person-1", DisplayName: "Alice", Active: true}))
	require.NoError(t, st.UpsertDevice(ctx, model.Device{
		ID: "device-1", Vendor: "acme", DeviceToken: token, PersonID: "person-1", RoomID: "room-1",
	}))
}

func createAlarm(t *testing.T, st *store.Store, status model.AlarmStatus) *model.Alarm {
	t.Helper()
	a := model.Alarm{
		ID: uuid.New(), Status: status, Source: "test", Event: "panic_button",
		CreatedAt: time.Now(), Severity: model.SeverityP0, AckToken: uuid.NewString(),
	}
	created, err := st.CreateAlarm(context.Background(), a)
	require.NoError(t, err)
	return created
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTrigger_CreatesAlarm(t *testing.T) {
	srv := newTestServer(t)
	seedDevice(t, srv.store, "tok-1")

	resp, err := http.Get(srv.URL + "/v1/yealink/alarm?token=tok-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "triggered", out["status"])
}

func TestTrigger_MissingDeviceTokenIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/yealink/alarm")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRoutes_RejectMissingOrWrongKey(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/alarms")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/alarms", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutes_AcceptCorrectKey(t *testing.T) {
	srv := newTestServer(t)
	createAlarm(t, srv.store, model.StatusTriggered)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/alarms", nil)
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Alarms []map[string]any `json:"alarms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Alarms, 1)
}

func TestListAlarms_CursorPagination(t *testing.T) {
	srv := newTestServer(t)
	base := time.Now()
	for i := 0; i < 3; i++ {
		a := model.Alarm{
			ID: uuid.New(), Status: model.StatusTriggered, Source: "test", Event: "panic_button",
			CreatedAt: base.Add(time.Duration(i) * time.Second), Severity: model.SeverityP0, AckToken: uuid.NewString(),
		}
		_, err := srv.store.CreateAlarm(context.Background(), a)
		require.NoError(t, err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/alarms?limit=1", nil)
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var page1 struct {
		Alarms     []map[string]any `json:"alarms"`
		NextCursor string           `json:"next_cursor"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page1))
	resp.Body.Close()
	require.Len(t, page1.Alarms, 1)
	require.NotEmpty(t, page1.NextCursor)

	req2, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/alarms?limit=1&cursor="+page1.NextCursor, nil)
	req2.Header.Set("X-Admin-Key", adminKey)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var page2 struct {
		Alarms []map[string]any `json:"alarms"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&page2))
	require.Len(t, page2.Alarms, 1)
	require.NotEqual(t, page1.Alarms[0]["id"], page2.Alarms[0]["id"])
}

func TestPatchAlarm_UpdatesSeverity(t *testing.T) {
	srv := newTestServer(t)
	a := createAlarm(t, srv.store, model.StatusTriggered)

	body, _ := json.Marshal(map[string]string{"severity": "P2"})
	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/v1/alarms/"+a.ID.String(), bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := srv.store.GetAlarm(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, model.SeverityP2, got.Severity)
}

func TestDeleteAlarm_SoftDeletes(t *testing.T) {
	srv := newTestServer(t)
	a := createAlarm(t, srv.store, model.StatusResolved)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/alarms/"+a.ID.String()+"?actor=admin", nil)
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = srv.store.GetAlarm(context.Background(), a.ID)
	require.Error(t, err)
}

func TestSingleTransition_AckAppliesAndIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	a := createAlarm(t, srv.store, model.StatusTriggered)

	body, _ := json.Marshal(map[string]string{"actor": "ops"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/alarms/"+a.ID.String()+"/ack", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got, err := srv.store.GetAlarm(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusAcknowledged, got.Status)

	// Replaying the same ack is a no-op but still 204, per the
	// "resolving an already-resolved alarm returns 204" contract.
	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/alarms/"+a.ID.String()+"/ack", bytes.NewReader(body))
	req2.Header.Set("X-Admin-Key", adminKey)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusNoContent, resp2.StatusCode)
}

func TestBulkTransition_AccountsChangedUnchangedAndMissing(t *testing.T) {
	srv := newTestServer(t)
	a := createAlarm(t, srv.store, model.StatusTriggered)
	b := createAlarm(t, srv.store, model.StatusResolved)

	body, _ := json.Marshal(map[string]any{
		"alarm_ids": []string{a.ID.String(), b.ID.String(), "not-a-uuid"},
		"actor":     "ops",
	})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/alarms/bulk/ack", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.EqualValues(t, 3, out["requested"])
	require.EqualValues(t, 1, out["changed"], "only the triggered alarm can transition to acknowledged")
	require.EqualValues(t, 1, out["unchanged"], "acknowledging the resolved alarm is a no-op")
	missing, _ := out["missing"].([]any)
	require.Len(t, missing, 1, "only the malformed id counts as missing")
}

func TestNotes_CreateAndList(t *testing.T) {
	srv := newTestServer(t)
	a := createAlarm(t, srv.store, model.StatusTriggered)

	body, _ := json.Marshal(map[string]string{"note": "called the site", "created_by": "ops"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/alarms/"+a.ID.String()+"/notes", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req2, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/alarms/"+a.ID.String()+"/notes", nil)
	req2.Header.Set("X-Admin-Key", adminKey)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var out struct {
		Notes []map[string]any `json:"notes"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out))
	require.Len(t, out.Notes, 1)
}

func TestAckFlow_GetThenPost(t *testing.T) {
	srv := newTestServer(t)
	a := createAlarm(t, srv.store, model.StatusTriggered)

	resp, err := http.Get(srv.URL + "/a/" + a.AckToken)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	form := "acked_by=alice"
	resp2, err := http.Post(srv.URL+"/a/"+a.AckToken, "application/x-www-form-urlencoded", bytes.NewBufferString(form))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	got, err := srv.store.GetAlarm(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusAcknowledged, got.Status)
}

func TestAdminSeed_UpsertsSite(t *testing.T) {
	srv := newTestServer(t)

	body := []byte(`{"sites":[{"id":"site-9","name":"Annex"}]}`)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/admin/seed", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", adminKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	site, err := srv.store.GetSite(context.Background(), "site-9")
	require.NoError(t, err)
	require.Equal(t, "Annex", site.Name)
}

func TestMockEndpoints_ListAndReset(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/admin/mock/notifications", nil)
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/admin/mock/reset", nil)
	req2.Header.Set("X-Admin-Key", adminKey)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNoContent, resp2.StatusCode)
}
