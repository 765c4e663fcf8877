// Package notify is the notification orchestrator: it builds one
// payload per escalation step, dispatches it to every enabled target
// through the target's channel adapter with strict per-target failure
// isolation, and writes one AlarmNotification audit row per attempt.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/silentline/sentinel/internal/broker/channel"
	"github.com/silentline/sentinel/internal/broker/clock"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/util/timefmt"
)

// EnrichedAlarm carries the alarm plus the human-readable strings the
// escalation scheduler resolved from person/room/site foreign keys
// (falling back to the raw id when the lookup misses — a missing FK
// is not an error, per spec.md §4.5).
type EnrichedAlarm struct {
	Alarm      *model.Alarm
	PersonName string
	RoomLabel  string
	SiteName   string
}

var priorityBySeverity = map[model.Severity]int{
	model.SeverityP0: 3,
	model.SeverityP1: 2,
	model.SeverityP2: 2,
	model.SeverityP3: 1,
}

// BuildPayload constructs the title/body/tags/priority shared across
// every target at one escalation step.
func BuildPayload(ea EnrichedAlarm, stepNo int, ackURL string) (title, body string, tags []string, priority int) {
	if stepNo == 0 {
		title = "SILENT ALARM"
	} else {
		title = fmt.Sprintf("ESCALATION stage %d", stepNo)
	}

	site := ea.SiteName
	if site == "" {
		site = ea.Alarm.SiteID
	}
	body = fmt.Sprintf(
		"alarm %s\nperson: %s\nroom: %s\nsite: %s\ntriggered_at: %s\nstep: %d\nacknowledge: %s",
		ea.Alarm.ID, ea.PersonName, ea.RoomLabel, site,
		timefmt.Format(ea.Alarm.CreatedAt), stepNo, ackURL,
	)

	if stepNo == 0 {
		tags = append(tags, "emergency")
	}
	if ea.Alarm.Severity == model.SeverityP0 {
		tags = append(tags, "silent")
	}

	priority = priorityBySeverity[ea.Alarm.Severity]
	return title, body, tags, priority
}

type Orchestrator struct {
	store    *store.Store
	registry *channel.Registry
	clock    clock.Clock
}

func New(st *store.Store, registry *channel.Registry, c clock.Clock) *Orchestrator {
	if c == nil {
		c = clock.Real{}
	}
	return &Orchestrator{store: st, registry: registry, clock: c}
}

// DispatchStep sends the step's payload to every target, writing one
// audit row per attempt, and never letting one target's failure
// prevent the next target in the same step from being tried.
func (o *Orchestrator) DispatchStep(ctx context.Context, ea EnrichedAlarm, stepNo int, targets []model.EscalationTarget, ackURL string) []channel.SendResult {
	title, body, tags, priority := BuildPayload(ea, stepNo, ackURL)

	results := make([]channel.SendResult, 0, len(targets))
	for _, target := range targets {
		n := channel.Notification{
			AlarmID:  ea.Alarm.ID.String(),
			Title:    title,
			Body:     body,
			Tags:     tags,
			Priority: priority,
			StepNo:   stepNo,
			Address:  target.Address,
		}

		adapter, ok := o.registry.Get(string(target.Channel))
		if !ok {
			o.recordResult(ctx, ea.Alarm.ID, target, n, channel.SendResult{}, fmt.Errorf("no adapter registered for channel %q", target.Channel))
			continue
		}

		res, err := adapter.Send(ctx, n)
		o.recordResult(ctx, ea.Alarm.ID, target, n, res, err)
		if err == nil {
			results = append(results, res)
		}
	}
	return results
}

func (o *Orchestrator) recordResult(ctx context.Context, alarmID uuid.UUID, target model.EscalationTarget, n channel.Notification, res channel.SendResult, sendErr error) {
	result := model.ResultOK
	errMsg := ""
	switch {
	case sendErr == nil:
		result = model.ResultOK
	case channel.IsTimeout(sendErr):
		result = model.ResultTimeout
		errMsg = sendErr.Error()
	case sendErr != nil:
		result = model.ResultError
		errMsg = sendErr.Error()
	default:
		result = model.ResultUnknown
	}

	if sendErr != nil {
		slog.Warn("channel dispatch failed", "channel", target.Channel, "target", target.ID, "alarm_id", alarmID, "error", sendErr)
	}

	row := model.AlarmNotification{
		ID:        uuid.New(),
		AlarmID:   alarmID,
		CreatedAt: o.clock.Now(),
		Channel:   target.Channel,
		TargetID:  target.ID,
		Payload: map[string]any{
			"title": n.Title, "body": n.Body, "tags": n.Tags, "priority": n.Priority, "step": n.StepNo,
		},
		Result: result,
		Error:  errMsg,
	}
	if err := o.store.RecordNotification(ctx, row); err != nil {
		slog.Error("failed to persist notification audit row", "alarm_id", alarmID, "error", err)
	}
}

// AckFollowup adds an internal note on any external ticket carrying
// the alarm's recorded ticket id, when one exists. The ticket adapter
// itself decides how "add a note" maps onto its wire format; for the
// generic HTTP ticket backend this is modeled as a second POST.
func (o *Orchestrator) AckFollowup(ctx context.Context, alarm *model.Alarm, ticketAdapter channel.Adapter) {
	if alarm.ExternalTicketID == nil || ticketAdapter == nil {
		return
	}
	n := channel.Notification{
		AlarmID: alarm.ID.String(),
		Title:   "acknowledged",
		Body:    fmt.Sprintf("alarm %s acknowledged by %s", alarm.ID, alarm.AckedBy),
	}
	if _, err := ticketAdapter.Send(ctx, n); err != nil {
		slog.Warn("ticket ack follow-up failed", "alarm_id", alarm.ID, "error", err)
	}
}
