package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/silentline/sentinel/internal/broker/alarm"
	"github.com/silentline/sentinel/internal/broker/httperr"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/broker/trigger"
)

type alarmDTO struct {
	ID               string         `json:"id"`
	Status           string         `json:"status"`
	Source           string         `json:"source"`
	Event            string         `json:"event"`
	CreatedAt        time.Time      `json:"created_at"`
	PersonID         string         `json:"person_id,omitempty"`
	RoomID           string         `json:"room_id,omitempty"`
	SiteID           string         `json:"site_id,omitempty"`
	DeviceID         string         `json:"device_id,omitempty"`
	Severity         string         `json:"severity"`
	Silent           bool           `json:"silent"`
	ExternalTicketID *int           `json:"external_ticket_id,omitempty"`
	AckToken         string         `json:"ack_token,omitempty"`
	AckedAt          *time.Time     `json:"acked_at,omitempty"`
	AckedBy          string         `json:"acked_by,omitempty"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy       string         `json:"resolved_by,omitempty"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`
	CancelledBy      string         `json:"cancelled_by,omitempty"`
	Meta             map[string]any `json:"meta,omitempty"`
}

func toDTO(a *model.Alarm) alarmDTO {
	return alarmDTO{
		ID: a.ID.String(), Status: string(a.Status), Source: a.Source, Event: a.Event,
		CreatedAt: a.CreatedAt, PersonID: a.PersonID, RoomID: a.RoomID, SiteID: a.SiteID, DeviceID: a.DeviceID,
		Severity: string(a.Severity), Silent: a.Silent, ExternalTicketID: a.ExternalTicketID, AckToken: a.AckToken,
		AckedAt: a.AckedAt, AckedBy: a.AckedBy, ResolvedAt: a.ResolvedAt, ResolvedBy: a.ResolvedBy,
		CancelledAt: a.CancelledAt, CancelledBy: a.CancelledBy, Meta: a.Meta,
	}
}

// handleTrigger is the device-facing ingress endpoint: GET
// /v1/yealink/alarm?token=… (the query parameter name is configurable,
// default "token"). The Yealink silent-alarm panic button hits this
// with a bare GET, so the device token and optional severity both
// travel as query parameters rather than a JSON body.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceToken := q.Get(s.triggerTokenParam)
	if deviceToken == "" {
		writeErr(w, r, model.NewValidation(s.triggerTokenParam, "%s is required", s.triggerTokenParam))
		return
	}

	res, err := s.pipeline.Trigger(r.Context(), trigger.Request{
		DeviceToken: deviceToken,
		ClientAddr:  s.addrResolver.resolve(r),
		UserAgent:   r.UserAgent(),
		Severity:    model.Severity(q.Get("severity")),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httperr.WriteJSON(w, http.StatusAccepted, map[string]any{
		"alarm_id":  res.AlarmID.String(),
		"status":    res.Status,
		"duplicate": res.Duplicate,
	})
}

func (s *Server) handleAckGet(w http.ResponseWriter, r *http.Request) {
	s.ack.ServeGet(w, r, chi.URLParam(r, "token"))
}

func (s *Server) handleAckPost(w http.ResponseWriter, r *http.Request) {
	s.ack.ServePost(w, r, chi.URLParam(r, "token"))
}

func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AlarmFilter{
		Status:   model.AlarmStatus(q.Get("status")),
		SiteID:   q.Get("site_id"),
		RoomID:   q.Get("room_id"),
		Severity: model.Severity(q.Get("severity")),
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			f.Limit = n
		}
	}
	if cur := q.Get("cursor"); cur != "" {
		ts, id, err := decodeCursor(cur)
		if err != nil {
			writeErr(w, r, model.NewValidation("cursor", "invalid cursor"))
			return
		}
		f.CursorCreatedAt = &ts
		f.CursorID = id
	}

	alarms, err := s.store.ListAlarms(r.Context(), f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	dtos := make([]alarmDTO, 0, len(alarms))
	for i := range alarms {
		dtos = append(dtos, toDTO(&alarms[i]))
	}
	var nextCursor string
	if len(alarms) > 0 && f.Limit > 0 && len(alarms) == f.Limit {
		last := alarms[len(alarms)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID.String())
	}
	httperr.WriteJSON(w, http.StatusOK, map[string]any{"alarms": dtos, "next_cursor": nextCursor})
}

func (s *Server) handleGetAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, model.NewValidation("id", "invalid alarm id"))
		return
	}
	a, err := s.store.GetAlarm(r.Context(), id)
	if err != nil {
		writeErr(w, r, model.NewNotFound("alarm", id.String()))
		return
	}
	httperr.WriteJSON(w, http.StatusOK, toDTO(a))
}

func (s *Server) handlePatchAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, model.NewValidation("id", "invalid alarm id"))
		return
	}
	var body struct {
		Severity string `json:"severity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, r, model.NewValidation("body", "invalid JSON body"))
		return
	}
	if body.Severity == "" {
		writeErr(w, r, model.NewValidation("severity", "severity is required"))
		return
	}
	if !validSeverity(model.Severity(body.Severity)) {
		writeErr(w, r, model.NewValidation("severity", "unknown severity %q", body.Severity))
		return
	}
	if err := s.store.UpdateSeverity(r.Context(), id, model.Severity(body.Severity)); err != nil {
		writeErr(w, r, err)
		return
	}
	a, err := s.store.GetAlarm(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, toDTO(a))
}

func validSeverity(sv model.Severity) bool {
	switch sv {
	case model.SeverityP0, model.SeverityP1, model.SeverityP2, model.SeverityP3:
		return true
	}
	return false
}

func (s *Server) handleDeleteAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, model.NewValidation("id", "invalid alarm id"))
		return
	}
	actor := r.URL.Query().Get("actor")
	if err := s.machine.SoftDelete(r.Context(), id, actor); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transitionBody is the optional body carried by the single and bulk
// transition endpoints; the target status comes from the route
// (/ack, /resolve, /cancel), never from the body.
type transitionBody struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (s *Server) applyTransition(r *http.Request, id uuid.UUID, target model.AlarmStatus, actor, note string) error {
	if target == model.StatusAcknowledged {
		_, err := s.machine.Acknowledge(r.Context(), id, actor, note)
		return err
	}
	_, err := s.machine.Transition(r.Context(), id, target, actor, note)
	return err
}

// handleSingleTransition builds the POST /v1/alarms/{id}/{ack,resolve,cancel}
// handler for the given target status. A successful call — whether it
// actually changed the alarm's status or was a same-status no-op — is
// 204, matching the "204 (transition applied)" / "resolving an
// already-resolved alarm returns 204 (no-op)" contract.
func (s *Server) handleSingleTransition(target model.AlarmStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, r, model.NewValidation("id", "invalid alarm id"))
			return
		}
		var body transitionBody
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeErr(w, r, model.NewValidation("body", "invalid JSON body"))
				return
			}
		}
		if err := s.applyTransition(r, id, target, body.Actor, body.Note); err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleBulkTransition builds the POST /v1/alarms/bulk/{ack,resolve,cancel}
// handler for the given target status.
func (s *Server) handleBulkTransition(target model.AlarmStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AlarmIDs []string `json:"alarm_ids" validate:"required"`
			Actor    string   `json:"actor"`
			Note     string   `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, r, model.NewValidation("body", "invalid JSON body"))
			return
		}
		if err := s.validate.Struct(body); err != nil {
			writeErr(w, r, model.NewValidation("alarm_ids", "alarm_ids is required"))
			return
		}

		changed, unchanged := 0, 0
		var missing []string
		for _, raw := range body.AlarmIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				missing = append(missing, raw)
				continue
			}
			var result *alarm.TransitionResult
			if target == model.StatusAcknowledged {
				result, err = s.machine.Acknowledge(r.Context(), id, body.Actor, body.Note)
			} else {
				result, err = s.machine.Transition(r.Context(), id, target, body.Actor, body.Note)
			}
			if err != nil {
				missing = append(missing, raw)
				continue
			}
			if result.Changed {
				changed++
			} else {
				unchanged++
			}
		}

		httperr.WriteJSON(w, http.StatusOK, map[string]any{
			"requested": len(body.AlarmIDs),
			"changed":   changed,
			"unchanged": unchanged,
			"missing":   missing,
		})
	}
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, model.NewValidation("id", "invalid alarm id"))
		return
	}
	var body struct {
		Note      string `json:"note" validate:"required"`
		CreatedBy string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, r, model.NewValidation("note", "note is required"))
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeErr(w, r, model.NewValidation("note", "note is required"))
		return
	}
	createdBy := body.CreatedBy
	if createdBy == "" {
		createdBy = r.Header.Get("X-Operator")
	}
	if createdBy == "" {
		createdBy = "admin"
	}
	note := model.AlarmNote{
		ID: uuid.New(), AlarmID: id, CreatedAt: s.clock.Now(),
		CreatedBy: createdBy, Note: body.Note, NoteType: "manual",
	}
	if err := s.store.CreateNote(r.Context(), note); err != nil {
		writeErr(w, r, err)
		return
	}
	httperr.WriteJSON(w, http.StatusCreated, noteDTO(note))
}

type noteDTOType struct {
	ID        string    `json:"id"`
	AlarmID   string    `json:"alarm_id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Note      string    `json:"note"`
	NoteType  string    `json:"note_type"`
}

func noteDTO(n model.AlarmNote) noteDTOType {
	return noteDTOType{
		ID: n.ID.String(), AlarmID: n.AlarmID.String(), CreatedAt: n.CreatedAt,
		CreatedBy: n.CreatedBy, Note: n.Note, NoteType: n.NoteType,
	}
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, model.NewValidation("id", "invalid alarm id"))
		return
	}
	notes, err := s.store.ListNotes(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]noteDTOType, 0, len(notes))
	for _, n := range notes {
		out = append(out, noteDTO(n))
	}
	httperr.WriteJSON(w, http.StatusOK, map[string]any{"notes": out})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, model.NewValidation("id", "invalid alarm id"))
		return
	}
	list, err := s.store.ListNotifications(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *Server) handleMockNotifications(w http.ResponseWriter, r *http.Request) {
	httperr.WriteJSON(w, http.StatusOK, map[string]any{"notifications": s.mock.Recent()})
}

func (s *Server) handleMockReset(w http.ResponseWriter, r *http.Request) {
	s.mock.Clear()
	w.WriteHeader(http.StatusNoContent)
}
