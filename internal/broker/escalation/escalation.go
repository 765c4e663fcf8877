// Package escalation implements the deferred-job scheduler: on the
// "created" event it resolves and enriches the alarm, dispatches the
// immediate (step 0) fan-out, and enqueues one deferred job per
// step_no > 0. Each deferred job re-checks alarm status before
// dispatching, which is the guarantee that stops escalation noise
// once an alarm has been acknowledged.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/silentline/sentinel/internal/broker/channel"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/notify"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/store"
)

type Scheduler struct {
	store          *store.Store
	queue          *queue.Queue
	orchestrator   *notify.Orchestrator
	registry       *channel.Registry
	publicBaseURL  string
	defaultPolicy  string
}

func New(st *store.Store, q *queue.Queue, orch *notify.Orchestrator, registry *channel.Registry, publicBaseURL, defaultPolicyID string) *Scheduler {
	return &Scheduler{
		store: st, queue: q, orchestrator: orch, registry: registry,
		publicBaseURL: publicBaseURL, defaultPolicy: defaultPolicyID,
	}
}

// CreatedJobPayload is the payload enqueued by the trigger pipeline
// for the "created" event.
type CreatedJobPayload struct {
	AlarmID string `json:"alarm_id"`
}

// StepJobPayload is the payload of one deferred escalation-step job.
type StepJobPayload struct {
	AlarmID  string `json:"alarm_id"`
	PolicyID string `json:"policy_id"`
	StepNo   int    `json:"step_no"`
}

// HandleCreated runs steps 1-6 of the escalation scheduler's design
// (spec.md §4.5): resolve, enrich, dispatch step 0, enqueue deferred
// steps.
func (s *Scheduler) HandleCreated(ctx context.Context, payload CreatedJobPayload) error {
	id, err := uuid.Parse(payload.AlarmID)
	if err != nil {
		return fmt.Errorf("parse alarm id: %w", err)
	}

	alarm, err := s.store.GetAlarm(ctx, id)
	if err != nil {
		return err
	}
	if alarm.Status != model.StatusTriggered {
		slog.Info("escalation skipped: alarm no longer triggered", "alarm_id", id)
		return nil
	}

	ea := s.enrich(ctx, alarm)
	ackURL := s.ackURL(alarm.AckToken)

	targets, err := s.store.StepTargets(ctx, s.defaultPolicy, 0)
	if err != nil {
		return fmt.Errorf("load step 0 targets: %w", err)
	}

	for _, t := range targets {
		if t.Channel == model.ChannelTicket {
			results := s.orchestrator.DispatchStep(ctx, ea, 0, []model.EscalationTarget{t}, ackURL)
			for _, r := range results {
				if r.TicketID != nil {
					_ = s.store.StampTicketID(ctx, id, *r.TicketID)
				}
			}
		}
	}
	nonTicket := make([]model.EscalationTarget, 0, len(targets))
	for _, t := range targets {
		if t.Channel != model.ChannelTicket {
			nonTicket = append(nonTicket, t)
		}
	}
	if len(nonTicket) > 0 {
		s.orchestrator.DispatchStep(ctx, ea, 0, nonTicket, ackURL)
	}

	steps, err := s.store.StepsForPolicy(ctx, s.defaultPolicy)
	if err != nil {
		return fmt.Errorf("load policy steps: %w", err)
	}
	for _, step := range steps {
		if step.StepNo == 0 {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, "escalation_step", StepJobPayload{
			AlarmID: id.String(), PolicyID: s.defaultPolicy, StepNo: step.StepNo,
		}, secondsToDuration(step.AfterSeconds)); err != nil {
			slog.Error("failed to enqueue deferred escalation step", "alarm_id", id, "step", step.StepNo, "error", err)
		}
	}
	return nil
}

// HandleStep runs one deferred escalation step: it re-reads the alarm
// and dispatches only if status is still TRIGGERED.
func (s *Scheduler) HandleStep(ctx context.Context, payload StepJobPayload) error {
	id, err := uuid.Parse(payload.AlarmID)
	if err != nil {
		return fmt.Errorf("parse alarm id: %w", err)
	}
	alarm, err := s.store.GetAlarm(ctx, id)
	if err != nil {
		return err
	}
	if alarm.Status != model.StatusTriggered {
		slog.Info("escalation skipped", "alarm_id", id, "status", alarm.Status, "step", payload.StepNo)
		return nil
	}

	ea := s.enrich(ctx, alarm)
	ackURL := s.ackURL(alarm.AckToken)

	targets, err := s.store.StepTargets(ctx, payload.PolicyID, payload.StepNo)
	if err != nil {
		return fmt.Errorf("load step targets: %w", err)
	}
	s.orchestrator.DispatchStep(ctx, ea, payload.StepNo, targets, ackURL)
	return nil
}

func (s *Scheduler) enrich(ctx context.Context, alarm *model.Alarm) notify.EnrichedAlarm {
	ea := notify.EnrichedAlarm{Alarm: alarm, PersonName: alarm.PersonID, RoomLabel: alarm.RoomID, SiteName: alarm.SiteID}
	if alarm.PersonID != "" {
		if p, err := s.store.GetPerson(ctx, alarm.PersonID); err == nil {
			ea.PersonName = p.DisplayName
		}
	}
	if alarm.RoomID != "" {
		if r, err := s.store.GetRoom(ctx, alarm.RoomID); err == nil {
			ea.RoomLabel = r.Label
		}
	}
	if alarm.SiteID != "" {
		if site, err := s.store.GetSite(ctx, alarm.SiteID); err == nil {
			ea.SiteName = site.Name
		}
	}
	return ea
}

func (s *Scheduler) ackURL(token string) string {
	return s.publicBaseURL + "/a/" + token
}

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
