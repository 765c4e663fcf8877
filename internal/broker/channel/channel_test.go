package channel_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silentline/sentinel/internal/broker/channel"
)

func TestSMSAdapter_SuccessPostsExpectedBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := channel.NewSMSAdapter(srv.URL, "", time.Second)
	_, err := a.Send(context.Background(), channel.Notification{
		Title: "SILENT ALARM", Body: "details", Address: "+15555550100",
	})
	require.NoError(t, err)
	require.Equal(t, "+15555550100", got["to"])
}

func TestWebhookAdapter_SignsBodyWhenSecretConfigured(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := channel.NewWebhookAdapter(srv.URL, "shared-secret", time.Second)
	_, err := a.Send(context.Background(), channel.Notification{AlarmID: "a1", Title: "t", Body: "b"})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("shared-secret"))
	mac.Write(gotBody)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookAdapter_NoSignatureHeaderWithoutSecret(t *testing.T) {
	var gotSig string
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig, sawHeader = r.Header.Get("X-Signature"), r.Header.Get("X-Signature") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := channel.NewWebhookAdapter(srv.URL, "", time.Second)
	_, err := a.Send(context.Background(), channel.Notification{AlarmID: "a1"})
	require.NoError(t, err)
	require.False(t, sawHeader)
	require.Empty(t, gotSig)
}

func TestTicketAdapter_4xxIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := channel.NewTicketAdapter(srv.URL, "token", time.Second)
	_, err := a.Send(context.Background(), channel.Notification{Title: "t", Body: "b"})
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "a 4xx response must not be retried")
}

func TestSMSAdapter_5xxIsRetriedThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := channel.NewSMSAdapter(srv.URL, "", 2*time.Second)
	_, err := a.Send(context.Background(), channel.Notification{Address: "+15555550100"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2), "a 5xx response must be retried")
}

func TestSMSAdapter_AuthHeaderSetWhenSecretConfigured(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := channel.NewSMSAdapter(srv.URL, "topsecret", time.Second)
	_, err := a.Send(context.Background(), channel.Notification{Address: "+1"})
	require.NoError(t, err)
	require.Equal(t, "Bearer topsecret", gotAuth)
}

func TestRegistry_GetMissingChannelReturnsFalse(t *testing.T) {
	r := channel.NewRegistry()
	_, ok := r.Get("sms")
	require.False(t, ok)

	mock := channel.NewMockAdapter()
	r.Register("sms", mock)
	a, ok := r.Get("sms")
	require.True(t, ok)
	require.Same(t, mock, a)
}

func TestMockAdapter_RecentAndClear(t *testing.T) {
	m := channel.NewMockAdapter()
	_, err := m.Send(context.Background(), channel.Notification{Title: "one"})
	require.NoError(t, err)
	_, err = m.Send(context.Background(), channel.Notification{Title: "two"})
	require.NoError(t, err)

	recent := m.Recent()
	require.Len(t, recent, 2)
	require.Equal(t, "two", recent[1].Title)

	m.Clear()
	require.Empty(t, m.Recent())
}

func TestIsTimeout_WrapsContextDeadline(t *testing.T) {
	base := context.DeadlineExceeded
	wrapped := channel.NewTimeoutError(base)
	require.True(t, channel.IsTimeout(wrapped))
	require.False(t, channel.IsTimeout(base))
}
