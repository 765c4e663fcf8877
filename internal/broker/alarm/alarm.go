// Package alarm implements the alarm lifecycle state machine: the
// allowed-transition graph, the same-status no-op rule, and the
// atomic (status, timestamp, actor) write.
package alarm

import (
	"context"

	"github.com/google/uuid"

	"github.com/silentline/sentinel/internal/broker/clock"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/store"
)

type Machine struct {
	store *store.Store
	clock clock.Clock
}

func New(st *store.Store, c clock.Clock) *Machine {
	if c == nil {
		c = clock.Real{}
	}
	return &Machine{store: st, clock: c}
}

// TransitionResult reports whether the call actually changed state.
type TransitionResult struct {
	Alarm   *model.Alarm
	Changed bool
}

// Acknowledge moves an alarm from TRIGGERED to ACKNOWLEDGED. A call
// against any other status is a no-op, not an error.
func (m *Machine) Acknowledge(ctx context.Context, id uuid.UUID, ackedBy, note string) (*TransitionResult, error) {
	a, err := m.store.GetAlarm(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.StatusTriggered {
		return &TransitionResult{Alarm: a, Changed: false}, nil
	}

	now := m.clock.Now()
	rows, err := m.store.CompareAndSetStatus(ctx, id, model.StatusTriggered, model.StatusAcknowledged, ackedBy, now)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Lost a race to another transition; re-read and report no-op.
		a, err = m.store.GetAlarm(ctx, id)
		return &TransitionResult{Alarm: a, Changed: false}, err
	}
	if note != "" {
		_ = mergeMeta(ctx, m.store, id, "ack_note", note)
	}
	a, err = m.store.GetAlarm(ctx, id)
	return &TransitionResult{Alarm: a, Changed: true}, err
}

// Transition moves an alarm to targetStatus (RESOLVED or CANCELLED),
// consulting the allowed-transition graph. Same-status is a silent
// no-op; a forbidden transition returns a Conflict error.
func (m *Machine) Transition(ctx context.Context, id uuid.UUID, targetStatus model.AlarmStatus, actor, note string) (*TransitionResult, error) {
	a, err := m.store.GetAlarm(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == targetStatus {
		return &TransitionResult{Alarm: a, Changed: false}, nil
	}
	if !model.CanTransition(a.Status, targetStatus) {
		return nil, model.NewConflict("cannot transition alarm from %s to %s", a.Status, targetStatus)
	}

	now := m.clock.Now()
	rows, err := m.store.CompareAndSetStatus(ctx, id, a.Status, targetStatus, actor, now)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		a, err = m.store.GetAlarm(ctx, id)
		return &TransitionResult{Alarm: a, Changed: false}, err
	}

	if note != "" {
		field := "resolve_note"
		if targetStatus == model.StatusCancelled {
			field = "cancel_note"
		}
		_ = mergeMeta(ctx, m.store, id, field, note)
	}

	a, err = m.store.GetAlarm(ctx, id)
	return &TransitionResult{Alarm: a, Changed: true}, err
}

// SoftDelete sets deleted_at/deleted_by. Deleting an already-deleted
// alarm is a Conflict.
func (m *Machine) SoftDelete(ctx context.Context, id uuid.UUID, deletedBy string) error {
	rows, err := m.store.SoftDeleteAlarm(ctx, id, deletedBy, m.clock.Now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return model.NewConflict("alarm already deleted")
	}
	return nil
}

// mergeMeta appends a single key into the alarm's meta bag without
// dropping existing fields (spec invariant: meta is append-only).
func mergeMeta(ctx context.Context, st *store.Store, id uuid.UUID, key, value string) error {
	a, err := st.GetAlarm(ctx, id)
	if err != nil {
		return err
	}
	if a.Meta == nil {
		a.Meta = map[string]any{}
	}
	a.Meta[key] = value
	return st.MergeMeta(ctx, id, a.Meta)
}
