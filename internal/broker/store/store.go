// Package store is the broker's durable-state repository layer: plain
// SQL against SQLite via sqlx, no ORM session, no code generation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/silentline/sentinel/internal/broker/model"
)

// Store wraps a *sqlx.DB with the broker's repository methods. SQLite
// permits only one writer; callers share a single *Store built over a
// single-connection pool (see internal/broker/db.Open).
type Store struct {
	db *sqlx.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "sqlite")}
}

func (s *Store) DB() *sqlx.DB { return s.db }

// --- Sites ---

func (s *Store) CreateSite(ctx context.Context, site model.Site) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sites (id, name) VALUES (?, ?)`, site.ID, site.Name)
	return err
}

func (s *Store) UpsertSite(ctx context.Context, site model.Site) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, site.ID, site.Name)
	return err
}

func (s *Store) GetSite(ctx context.Context, id string) (*model.Site, error) {
	var site model.Site
	err := s.db.GetContext(ctx, &site, `SELECT id, name FROM sites WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFound("site", id)
	}
	return &site, err
}

// --- Rooms ---

func (s *Store) UpsertRoom(ctx context.Context, r model.Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, site_id, label, floor, notes) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET site_id=excluded.site_id, label=excluded.label,
			floor=excluded.floor, notes=excluded.notes`,
		r.ID, r.SiteID, r.Label, nullString(r.Floor), nullString(r.Notes))
	return err
}

func (s *Store) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	var r model.Room
	err := s.db.GetContext(ctx, &r, `SELECT id, site_id, label, floor, notes FROM rooms WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFound("room", id)
	}
	return &r, err
}

// --- Persons ---

func (s *Store) UpsertPerson(ctx context.Context, p model.Person) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (id, display_name, role, phone_mobile, phone_ext, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, role=excluded.role,
			phone_mobile=excluded.phone_mobile, phone_ext=excluded.phone_ext, active=excluded.active`,
		p.ID, p.DisplayName, nullString(p.Role), nullString(p.PhoneMobile), nullString(p.PhoneExt), p.Active)
	return err
}

func (s *Store) GetPerson(ctx context.Context, id string) (*model.Person, error) {
	var p model.Person
	err := s.db.GetContext(ctx, &p, `SELECT id, display_name, role, phone_mobile, phone_ext, active FROM persons WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFound("person", id)
	}
	return &p, err
}

// --- Devices ---

func (s *Store) UpsertDevice(ctx context.Context, d model.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, vendor, model_family, mac, account_ext, device_token, person_id, room_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET vendor=excluded.vendor, model_family=excluded.model_family,
			mac=excluded.mac, account_ext=excluded.account_ext, device_token=excluded.device_token,
			person_id=excluded.person_id, room_id=excluded.room_id`,
		d.ID, d.Vendor, d.ModelFamily, nullString(d.MAC), nullString(d.AccountExt), d.DeviceToken,
		nullString(d.PersonID), nullString(d.RoomID))
	return err
}

func (s *Store) GetDeviceByToken(ctx context.Context, token string) (*model.Device, error) {
	var d model.Device
	err := s.db.GetContext(ctx, &d, `
		SELECT id, vendor, model_family, mac, account_ext, device_token, person_id, room_id, last_seen_at
		FROM devices WHERE device_token = ?`, token)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFound("device", "")
	}
	return &d, err
}

func (s *Store) TouchDeviceLastSeen(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET last_seen_at = ? WHERE id = ?`, at, deviceID)
	return err
}

// --- Escalation targets / policy / steps ---

func (s *Store) UpsertEscalationTarget(ctx context.Context, t model.EscalationTarget) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_targets (id, label, channel, address, enabled) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label=excluded.label, channel=excluded.channel,
			address=excluded.address, enabled=excluded.enabled`,
		t.ID, t.Label, string(t.Channel), t.Address, t.Enabled)
	return err
}

func (s *Store) GetEscalationTarget(ctx context.Context, id string) (*model.EscalationTarget, error) {
	var row escalationTargetRow
	err := s.db.GetContext(ctx, &row, `SELECT id, label, channel, address, enabled FROM escalation_targets WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFound("escalation_target", id)
	}
	if err != nil {
		return nil, err
	}
	t := row.toModel()
	return &t, nil
}

func (s *Store) UpsertEscalationPolicy(ctx context.Context, p model.EscalationPolicy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_policy (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name`, p.ID, p.Name)
	return err
}

func (s *Store) ReplaceEscalationSteps(ctx context.Context, policyID string, steps []model.EscalationStep) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM escalation_steps WHERE policy_id = ?`, policyID); err != nil {
		return err
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escalation_steps (policy_id, step_no, after_seconds, target_id) VALUES (?, ?, ?, ?)`,
			policyID, st.StepNo, st.AfterSeconds, st.TargetID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StepsForPolicy returns steps grouped by step_no in ascending order.
func (s *Store) StepsForPolicy(ctx context.Context, policyID string) ([]model.EscalationStep, error) {
	var steps []model.EscalationStep
	err := s.db.SelectContext(ctx, &steps, `
		SELECT policy_id, step_no, after_seconds, target_id FROM escalation_steps
		WHERE policy_id = ? ORDER BY step_no ASC`, policyID)
	return steps, err
}

// StepTargets returns the enabled targets for one specific step of a policy.
func (s *Store) StepTargets(ctx context.Context, policyID string, stepNo int) ([]model.EscalationTarget, error) {
	var rows []escalationTargetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT et.id, et.label, et.channel, et.address, et.enabled
		FROM escalation_steps es
		JOIN escalation_targets et ON et.id = es.target_id
		WHERE es.policy_id = ? AND es.step_no = ? AND et.enabled = 1`, policyID, stepNo)
	if err != nil {
		return nil, err
	}
	out := make([]model.EscalationTarget, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type escalationTargetRow struct {
	ID      string `db:"id"`
	Label   string `db:"label"`
	Channel string `db:"channel"`
	Address string `db:"address"`
	Enabled bool   `db:"enabled"`
}

func (r escalationTargetRow) toModel() model.EscalationTarget {
	return model.EscalationTarget{
		ID: r.ID, Label: r.Label, Channel: model.Channel(r.Channel), Address: r.Address, Enabled: r.Enabled,
	}
}

// --- Alarms ---

type alarmRow struct {
	ID              string         `db:"id"`
	Status          string         `db:"status"`
	Source          string         `db:"source"`
	Event           string         `db:"event"`
	CreatedAt       time.Time      `db:"created_at"`
	PersonID        sql.NullString `db:"person_id"`
	RoomID          sql.NullString `db:"room_id"`
	SiteID          sql.NullString `db:"site_id"`
	DeviceID        sql.NullString `db:"device_id"`
	Severity        string         `db:"severity"`
	Silent          bool           `db:"silent"`
	ExternalTicketID  sql.NullInt64  `db:"external_ticket_id"`
	AckToken        sql.NullString `db:"ack_token"`
	AckedAt         sql.NullTime   `db:"acked_at"`
	AckedBy         sql.NullString `db:"acked_by"`
	ResolvedAt      sql.NullTime   `db:"resolved_at"`
	ResolvedBy      sql.NullString `db:"resolved_by"`
	CancelledAt     sql.NullTime   `db:"cancelled_at"`
	CancelledBy     sql.NullString `db:"cancelled_by"`
	Meta            string         `db:"meta"`
	DeletedAt       sql.NullTime   `db:"deleted_at"`
	DeletedBy       sql.NullString `db:"deleted_by"`
}

func (r alarmRow) toModel() (model.Alarm, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return model.Alarm{}, fmt.Errorf("parse alarm id: %w", err)
	}
	meta := map[string]any{}
	if r.Meta != "" {
		if err := json.Unmarshal([]byte(r.Meta), &meta); err != nil {
			return model.Alarm{}, fmt.Errorf("unmarshal alarm meta: %w", err)
		}
	}
	a := model.Alarm{
		ID:        id,
		Status:    model.AlarmStatus(r.Status),
		Source:    r.Source,
		Event:     r.Event,
		CreatedAt: r.CreatedAt,
		PersonID:  r.PersonID.String,
		RoomID:    r.RoomID.String,
		SiteID:    r.SiteID.String,
		DeviceID:  r.DeviceID.String,
		Severity:  model.Severity(r.Severity),
		Silent:    r.Silent,
		AckToken:  r.AckToken.String,
		AckedBy:   r.AckedBy.String,
		ResolvedBy: r.ResolvedBy.String,
		CancelledBy: r.CancelledBy.String,
		Meta:      meta,
	}
	if r.ExternalTicketID.Valid {
		v := int(r.ExternalTicketID.Int64)
		a.ExternalTicketID = &v
	}
	if r.AckedAt.Valid {
		a.AckedAt = &r.AckedAt.Time
	}
	if r.ResolvedAt.Valid {
		a.ResolvedAt = &r.ResolvedAt.Time
	}
	if r.CancelledAt.Valid {
		a.CancelledAt = &r.CancelledAt.Time
	}
	if r.DeletedAt.Valid {
		a.DeletedAt = &r.DeletedAt.Time
	}
	return a, nil
}

// CreateAlarm inserts a new alarm and returns the populated model
// (id/created_at assigned by the caller before insert).
func (s *Store) CreateAlarm(ctx context.Context, a model.Alarm) (*model.Alarm, error) {
	metaJSON, err := json.Marshal(a.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alarms (id, status, source, event, created_at, person_id, room_id, site_id,
			device_id, severity, silent, ack_token, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), string(a.Status), a.Source, a.Event, a.CreatedAt,
		nullString(a.PersonID), nullString(a.RoomID), nullString(a.SiteID), nullString(a.DeviceID),
		string(a.Severity), a.Silent, a.AckToken, string(metaJSON))
	if err != nil {
		return nil, err
	}
	return s.GetAlarm(ctx, a.ID)
}

func (s *Store) GetAlarm(ctx context.Context, id uuid.UUID) (*model.Alarm, error) {
	var row alarmRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM alarms WHERE id = ? AND deleted_at IS NULL`, id.String())
	if err == sql.ErrNoRows {
		return nil, model.NewNotFound("alarm", id.String())
	}
	if err != nil {
		return nil, err
	}
	a, err := row.toModel()
	return &a, err
}

func (s *Store) GetAlarmByAckToken(ctx context.Context, token string) (*model.Alarm, error) {
	var row alarmRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM alarms WHERE ack_token = ? AND deleted_at IS NULL`, token)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFound("alarm", "")
	}
	if err != nil {
		return nil, err
	}
	a, err := row.toModel()
	return &a, err
}

// CompareAndSetStatus performs the alarm state machine's atomic write:
// it only updates the row if the current status still matches
// expectedFrom, so two concurrent transition attempts never both
// "win". Returns the number of rows changed (0 or 1).
func (s *Store) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expectedFrom, to model.AlarmStatus, actor string, at time.Time) (int64, error) {
	var query string
	switch to {
	case model.StatusAcknowledged:
		query = `UPDATE alarms SET status = ?, acked_at = ?, acked_by = ? WHERE id = ? AND status = ? AND deleted_at IS NULL`
	case model.StatusResolved:
		query = `UPDATE alarms SET status = ?, resolved_at = ?, resolved_by = ? WHERE id = ? AND status = ? AND deleted_at IS NULL`
	case model.StatusCancelled:
		query = `UPDATE alarms SET status = ?, cancelled_at = ?, cancelled_by = ? WHERE id = ? AND status = ? AND deleted_at IS NULL`
	default:
		return 0, fmt.Errorf("unsupported target status %q", to)
	}
	res, err := s.db.ExecContext(ctx, query, string(to), at, nullString(actor), id.String(), string(expectedFrom))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MergeMeta overwrites the alarm's full meta bag with merged, which the
// caller is expected to have built by reading the current value and
// adding fields — never dropping existing ones (spec invariant).
func (s *Store) MergeMeta(ctx context.Context, id uuid.UUID, merged map[string]any) error {
	b, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE alarms SET meta = ? WHERE id = ?`, string(b), id.String())
	return err
}

func (s *Store) UpdateSeverity(ctx context.Context, id uuid.UUID, severity model.Severity) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alarms SET severity = ? WHERE id = ?`, string(severity), id.String())
	return err
}

func (s *Store) StampTicketID(ctx context.Context, id uuid.UUID, ticketID int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alarms SET external_ticket_id = ? WHERE id = ?`, ticketID, id.String())
	return err
}

func (s *Store) SoftDeleteAlarm(ctx context.Context, id uuid.UUID, actor string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alarms SET deleted_at = ?, deleted_by = ? WHERE id = ? AND deleted_at IS NULL`,
		at, nullString(actor), id.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AlarmFilter narrows ListAlarms; zero-value fields are ignored.
type AlarmFilter struct {
	Status   model.AlarmStatus
	SiteID   string
	RoomID   string
	Severity model.Severity
	Limit    int

	// Cursor pagination: rows with (created_at, id) strictly less than
	// this pair (descending order) are returned.
	CursorCreatedAt *time.Time
	CursorID        string
}

func (s *Store) ListAlarms(ctx context.Context, f AlarmFilter) ([]model.Alarm, error) {
	q := `SELECT * FROM alarms WHERE deleted_at IS NULL`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.SiteID != "" {
		q += ` AND site_id = ?`
		args = append(args, f.SiteID)
	}
	if f.RoomID != "" {
		q += ` AND room_id = ?`
		args = append(args, f.RoomID)
	}
	if f.Severity != "" {
		q += ` AND severity = ?`
		args = append(args, string(f.Severity))
	}
	if f.CursorCreatedAt != nil {
		q += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, *f.CursorCreatedAt, *f.CursorCreatedAt, f.CursorID)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q += ` LIMIT ?`
	args = append(args, limit)

	var rows []alarmRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]model.Alarm, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// --- Alarm notifications (audit log) ---

func (s *Store) RecordNotification(ctx context.Context, n model.AlarmNotification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alarm_notifications (id, alarm_id, created_at, channel, target_id, payload, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.AlarmID.String(), n.CreatedAt, string(n.Channel), nullString(n.TargetID),
		string(payload), string(n.Result), nullString(n.Error))
	return err
}

func (s *Store) ListNotifications(ctx context.Context, alarmID uuid.UUID) ([]model.AlarmNotification, error) {
	type row struct {
		ID        string         `db:"id"`
		AlarmID   string         `db:"alarm_id"`
		CreatedAt time.Time      `db:"created_at"`
		Channel   string         `db:"channel"`
		TargetID  sql.NullString `db:"target_id"`
		Payload   string         `db:"payload"`
		Result    sql.NullString `db:"result"`
		Error     sql.NullString `db:"error"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, alarm_id, created_at, channel, target_id, payload, result, error
		FROM alarm_notifications WHERE alarm_id = ? ORDER BY created_at ASC`, alarmID.String())
	if err != nil {
		return nil, err
	}
	out := make([]model.AlarmNotification, 0, len(rows))
	for _, r := range rows {
		id, _ := uuid.Parse(r.ID)
		aid, _ := uuid.Parse(r.AlarmID)
		payload := map[string]any{}
		_ = json.Unmarshal([]byte(r.Payload), &payload)
		out = append(out, model.AlarmNotification{
			ID: id, AlarmID: aid, CreatedAt: r.CreatedAt, Channel: model.Channel(r.Channel),
			TargetID: r.TargetID.String, Payload: payload,
			Result: model.NotificationResult(r.Result.String), Error: r.Error.String,
		})
	}
	return out, nil
}

// --- Alarm notes ---

func (s *Store) CreateNote(ctx context.Context, n model.AlarmNote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alarm_notes (id, alarm_id, created_at, created_by, note, note_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.AlarmID.String(), n.CreatedAt, nullString(n.CreatedBy), n.Note, n.NoteType)
	return err
}

func (s *Store) ListNotes(ctx context.Context, alarmID uuid.UUID) ([]model.AlarmNote, error) {
	type row struct {
		ID        string         `db:"id"`
		AlarmID   string         `db:"alarm_id"`
		CreatedAt time.Time      `db:"created_at"`
		CreatedBy sql.NullString `db:"created_by"`
		Note      string         `db:"note"`
		NoteType  string         `db:"note_type"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, alarm_id, created_at, created_by, note, note_type
		FROM alarm_notes WHERE alarm_id = ? ORDER BY created_at ASC`, alarmID.String())
	if err != nil {
		return nil, err
	}
	out := make([]model.AlarmNote, 0, len(rows))
	for _, r := range rows {
		id, _ := uuid.Parse(r.ID)
		aid, _ := uuid.Parse(r.AlarmID)
		out = append(out, model.AlarmNote{
			ID: id, AlarmID: aid, CreatedAt: r.CreatedAt, CreatedBy: r.CreatedBy.String,
			Note: r.Note, NoteType: r.NoteType,
		})
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
