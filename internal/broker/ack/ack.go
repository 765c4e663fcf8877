// Package ack implements the single-use acknowledgment channel: an
// opaque ack_token URL that resolves to exactly one alarm and exactly
// one state transition. The token is the sole authentication factor,
// so every response here disables caching and escapes every rendered
// field twice (bluemonday strip, then html/template autoescape).
package ack

import (
	"context"
	"html/template"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/silentline/sentinel/internal/broker/alarm"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/store"
)

const (
	maxAckedByLen = 120
	maxNoteLen    = 2000
)

var sanitizer = bluemonday.StrictPolicy()

var pageTemplate = template.Must(template.New("ack").Parse(`<!DOCTYPE html>
<html><head><title>Acknowledge alarm</title></head>
<body>
<h1>{{.Title}}</h1>
<p>Person: {{.PersonName}}</p>
<p>Room: {{.RoomLabel}}</p>
<p>Status: {{.Status}}</p>
{{if .CanAck}}
<form method="POST">
<label>Acknowledged by: <input type="text" name="acked_by" maxlength="120"></label><br>
<label>Note: <textarea name="note" maxlength="2000"></textarea></label><br>
<button type="submit">Acknowledge</button>
</form>
{{else}}
<p>This alarm has already been handled.</p>
{{end}}
</body></html>`))

type pageData struct {
	Title      string
	PersonName string
	RoomLabel  string
	Status     model.AlarmStatus
	CanAck     bool
}

type Handler struct {
	store   *store.Store
	machine *alarm.Machine
	queue   *queue.Queue
}

func New(st *store.Store, m *alarm.Machine, q *queue.Queue) *Handler {
	return &Handler{store: st, machine: m, queue: q}
}

func securityHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'none'")
	if r.TLS != nil {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// ServeGet renders the acknowledgment form. 404 if the token is
// unknown. Person/room display fields pass through bluemonday before
// reaching the (already-autoescaping) template.
func (h *Handler) ServeGet(w http.ResponseWriter, r *http.Request, ackToken string) {
	securityHeaders(w, r)

	a, err := h.store.GetAlarmByAckToken(r.Context(), ackToken)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	data := pageData{
		Title:      "Silent alarm",
		PersonName: sanitizer.Sanitize(resolveLabel(r.Context(), h.store, a.PersonID, personLabel)),
		RoomLabel:  sanitizer.Sanitize(resolveLabel(r.Context(), h.store, a.RoomID, roomLabel)),
		Status:     a.Status,
		CanAck:     a.Status == model.StatusTriggered,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = pageTemplate.Execute(w, data)
}

// ServePost handles the acknowledgment form submission. A second POST
// after acknowledgment is a no-op (enforced by the state machine, not
// by invalidating the token).
func (h *Handler) ServePost(w http.ResponseWriter, r *http.Request, ackToken string) {
	securityHeaders(w, r)

	a, err := h.store.GetAlarmByAckToken(r.Context(), ackToken)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ackedBy := strings.TrimSpace(r.FormValue("acked_by"))
	note := strings.TrimSpace(r.FormValue("note"))
	if len(ackedBy) > maxAckedByLen {
		http.Error(w, "acked_by too long", http.StatusBadRequest)
		return
	}
	if len(note) > maxNoteLen {
		http.Error(w, "note too long", http.StatusBadRequest)
		return
	}

	result, err := h.machine.Acknowledge(r.Context(), a.ID, ackedBy, note)
	if err != nil {
		http.Error(w, "could not acknowledge", http.StatusInternalServerError)
		return
	}
	if result.Changed && h.queue != nil {
		_, _ = h.queue.Enqueue(r.Context(), "acked", map[string]string{"alarm_id": a.ID.String()}, 0)
		_, _ = h.queue.Enqueue(r.Context(), "state_changed", map[string]string{"alarm_id": a.ID.String()}, 0)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = pageTemplate.Execute(w, pageData{
		Title:  "Thank you",
		Status: result.Alarm.Status,
		CanAck: false,
	})
}

func personLabel(ctx context.Context, st *store.Store, id string) string {
	p, err := st.GetPerson(ctx, id)
	if err != nil {
		return id
	}
	return p.DisplayName
}

func roomLabel(ctx context.Context, st *store.Store, id string) string {
	r, err := st.GetRoom(ctx, id)
	if err != nil {
		return id
	}
	return r.Label
}

func resolveLabel(ctx context.Context, st *store.Store, id string, f func(context.Context, *store.Store, string) string) string {
	if id == "" {
		return ""
	}
	return f(ctx, st, id)
}
