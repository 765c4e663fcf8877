package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/silentline/sentinel/internal/broker/db"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB))
	return store.New(sqlDB)
}

func newAlarm(status model.AlarmStatus) model.Alarm {
	return model.Alarm{
		ID:        uuid.New(),
		Status:    status,
		Source:    "test",
		Event:     "panic_button",
		CreatedAt: time.Now(),
		Severity:  model.SeverityP0,
		Silent:    true,
		AckToken:  uuid.NewString(),
		Meta:      map[string]any{},
	}
}

func TestCreateAndGetAlarm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := newAlarm(model.StatusTriggered)
	created, err := st.CreateAlarm(ctx, in)
	require.NoError(t, err)
	require.Equal(t, in.ID, created.ID)
	require.Equal(t, model.StatusTriggered, created.Status)

	got, err := st.GetAlarm(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, in.Source, got.Source)
}

func TestGetAlarm_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetAlarm(context.Background(), uuid.New())
	require.Error(t, err)
	mErr, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.KindNotFound, mErr.Kind)
}

func TestGetAlarmByAckToken(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := newAlarm(model.StatusTriggered)
	_, err := st.CreateAlarm(ctx, in)
	require.NoError(t, err)

	got, err := st.GetAlarmByAckToken(ctx, in.AckToken)
	require.NoError(t, err)
	require.Equal(t, in.ID, got.ID)
}

func TestCompareAndSetStatus_OnlyWinsOnMatchingFrom(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := newAlarm(model.StatusTriggered)
	_, err := st.CreateAlarm(ctx, in)
	require.NoError(t, err)

	n, err := st.CompareAndSetStatus(ctx, in.ID, model.StatusTriggered, model.StatusAcknowledged, "alice", time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// A second attempt from the same stale "triggered" expectation must not win.
	n, err = st.CompareAndSetStatus(ctx, in.ID, model.StatusTriggered, model.StatusAcknowledged, "bob", time.Now())
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := st.GetAlarm(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.AckedBy)
}

func TestMergeMeta_PreservesUnrelatedKeys(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := newAlarm(model.StatusTriggered)
	in.Meta = map[string]any{"existing": "value"}
	_, err := st.CreateAlarm(ctx, in)
	require.NoError(t, err)

	got, err := st.GetAlarm(ctx, in.ID)
	require.NoError(t, err)
	merged := got.Meta
	merged["added"] = "new"
	require.NoError(t, st.MergeMeta(ctx, in.ID, merged))

	got, err = st.GetAlarm(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, "value", got.Meta["existing"])
	require.Equal(t, "new", got.Meta["added"])
}

func TestSoftDeleteAlarm_HidesFromGetAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := newAlarm(model.StatusResolved)
	_, err := st.CreateAlarm(ctx, in)
	require.NoError(t, err)

	n, err := st.SoftDeleteAlarm(ctx, in.ID, "admin", time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = st.GetAlarm(ctx, in.ID)
	require.Error(t, err)

	n, err = st.SoftDeleteAlarm(ctx, in.ID, "admin", time.Now())
	require.NoError(t, err)
	require.Zero(t, n, "double soft-delete must not affect a second row")
}

func TestListAlarms_FiltersByStatusAndSeverity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := newAlarm(model.StatusTriggered)
	a.Severity = model.SeverityP0
	_, err := st.CreateAlarm(ctx, a)
	require.NoError(t, err)

	b := newAlarm(model.StatusResolved)
	b.Severity = model.SeverityP2
	_, err = st.CreateAlarm(ctx, b)
	require.NoError(t, err)

	rows, err := st.ListAlarms(ctx, store.AlarmFilter{Status: model.StatusTriggered})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, a.ID, rows[0].ID)

	rows, err = st.ListAlarms(ctx, store.AlarmFilter{Severity: model.SeverityP2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, b.ID, rows[0].ID)
}

func TestListAlarms_CursorPaginationExcludesSeenRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	var created []model.Alarm
	for i := 0; i < 3; i++ {
		a := newAlarm(model.StatusTriggered)
		a.CreatedAt = base.Add(time.Duration(i) * time.Second)
		got, err := st.CreateAlarm(ctx, a)
		require.NoError(t, err)
		created = append(created, *got)
	}

	first, err := st.ListAlarms(ctx, store.AlarmFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, first, 1)
	// Descending order: the most recently created alarm comes first.
	require.Equal(t, created[2].ID, first[0].ID)

	cursorAt := first[0].CreatedAt
	second, err := st.ListAlarms(ctx, store.AlarmFilter{
		Limit:           10,
		CursorCreatedAt: &cursorAt,
		CursorID:        first[0].ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, second, 2)
	for _, a := range second {
		require.NotEqual(t, first[0].ID, a.ID)
	}
}

func TestRecordAndListNotifications(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := newAlarm(model.StatusTriggered)
	_, err := st.CreateAlarm(ctx, in)
	require.NoError(t, err)

	n := model.AlarmNotification{
		ID:        uuid.New(),
		AlarmID:   in.ID,
		CreatedAt: time.Now(),
		Channel:   model.ChannelSMS,
		Result:    model.ResultOK,
		Payload:   map[string]any{"to": "+15555550100"},
	}
	require.NoError(t, st.RecordNotification(ctx, n))

	rows, err := st.ListNotifications(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, model.ResultOK, rows[0].Result)
}

func TestCreateAndListNotes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := newAlarm(model.StatusTriggered)
	_, err := st.CreateAlarm(ctx, in)
	require.NoError(t, err)

	note := model.AlarmNote{
		ID:        uuid.New(),
		AlarmID:   in.ID,
		CreatedAt: time.Now(),
		CreatedBy: "ops",
		Note:      "called the site, all clear",
		NoteType:  "comment",
	}
	require.NoError(t, st.CreateNote(ctx, note))

	rows, err := st.ListNotes(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "called the site, all clear", rows[0].Note)
}

func TestEscalationPolicyAndSteps(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertEscalationTarget(ctx, model.EscalationTarget{
		ID: "t1", Label: "on-call", Channel: model.ChannelSMS, Address: "+15555550100", Enabled: true,
	}))
	require.NoError(t, st.UpsertEscalationPolicy(ctx, model.EscalationPolicy{ID: "default", Name: "Default"}))
	require.NoError(t, st.ReplaceEscalationSteps(ctx, "default", []model.EscalationStep{
		{PolicyID: "default", StepNo: 0, AfterSeconds: 0, TargetID: "t1"},
	}))

	steps, err := st.StepsForPolicy(ctx, "default")
	require.NoError(t, err)
	require.Len(t, steps, 1)

	targets, err := st.StepTargets(ctx, "default", 0)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "t1", targets[0].ID)
}
