// Package worker provides an exported entry point for running the job
// queue consumer as a library, so both the split alarm-worker binary
// and the combined alarm-broker binary can start it the same way.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/silentline/sentinel/internal/broker/channel"
	"github.com/silentline/sentinel/internal/broker/escalation"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/notify"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/metrics"
)

// RunConfig holds everything the job loop needs to dispatch a
// dequeued job to the right handler.
type RunConfig struct {
	Queue        *queue.Queue
	Store        *store.Store
	Scheduler    *escalation.Scheduler
	Orchestrator *notify.Orchestrator
	Registry     *channel.Registry
	PollInterval time.Duration
	BatchSize    int
}

const (
	retryDelay = 30 * time.Second
	maxRetries = 5
)

// Run polls the job queue until ctx is cancelled, dispatching each job
// by its Kind to the escalation scheduler or the notification
// orchestrator, and acking or retrying based on the handler's result.
func Run(ctx context.Context, cfg RunConfig) error {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := drain(ctx, cfg); err != nil {
				slog.Error("worker: drain failed", "error", err)
			}
		}
	}
}

func drain(ctx context.Context, cfg RunConfig) error {
	jobs, err := cfg.Queue.Dequeue(ctx, cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		handleJob(ctx, cfg, j)
	}
	return nil
}

func handleJob(ctx context.Context, cfg RunConfig, j queue.Job) {
	err := dispatch(ctx, cfg, j)
	if err == nil {
		if ackErr := cfg.Queue.Ack(ctx, j.ID); ackErr != nil {
			slog.Error("worker: ack failed", "job_id", j.ID, "kind", j.Kind, "error", ackErr)
		}
		metrics.JobsProcessedTotal.WithLabelValues(j.Kind, "ok").Inc()
		return
	}

	slog.Error("worker: job failed", "job_id", j.ID, "kind", j.Kind, "attempts", j.Attempts, "error", err)
	retry := j.Attempts < maxRetries
	if failErr := cfg.Queue.Fail(ctx, j.ID, retry, retryDelay); failErr != nil {
		slog.Error("worker: fail-requeue failed", "job_id", j.ID, "error", failErr)
	}
	outcome := "retry"
	if !retry {
		outcome = "dropped"
	}
	metrics.JobsProcessedTotal.WithLabelValues(j.Kind, outcome).Inc()
}

func dispatch(ctx context.Context, cfg RunConfig, j queue.Job) error {
	switch j.Kind {
	case "created":
		var payload escalation.CreatedJobPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return err
		}
		return cfg.Scheduler.HandleCreated(ctx, payload)

	case "escalation_step":
		var payload escalation.StepJobPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return err
		}
		return cfg.Scheduler.HandleStep(ctx, payload)

	case "acked":
		return handleAcked(ctx, cfg, j)

	case "state_changed":
		return handleStateChanged(ctx, cfg, j)

	default:
		slog.Warn("worker: unknown job kind, dropping", "kind", j.Kind)
		return nil
	}
}

type alarmIDPayload struct {
	AlarmID string `json:"alarm_id"`
}

func isNotFound(err error) bool {
	var mErr *model.Error
	return errors.As(err, &mErr) && mErr.Kind == model.KindNotFound
}

func handleAcked(ctx context.Context, cfg RunConfig, j queue.Job) error {
	var payload alarmIDPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return err
	}
	id, err := uuid.Parse(payload.AlarmID)
	if err != nil {
		return err
	}
	a, err := cfg.Store.GetAlarm(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	var ticketAdapter channel.Adapter
	if adapter, ok := cfg.Registry.Get("ticket"); ok {
		ticketAdapter = adapter
	}
	cfg.Orchestrator.AckFollowup(ctx, a, ticketAdapter)
	return nil
}

func handleStateChanged(ctx context.Context, cfg RunConfig, j queue.Job) error {
	var payload alarmIDPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return err
	}
	id, err := uuid.Parse(payload.AlarmID)
	if err != nil {
		return err
	}
	a, err := cfg.Store.GetAlarm(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	metrics.AlarmTransitionsTotal.WithLabelValues(string(a.Status)).Inc()
	if a.Status == model.StatusAcknowledged || a.Status == model.StatusResolved || a.Status == model.StatusCancelled {
		metrics.AlarmsOpen.Dec()
	}
	return nil
}
