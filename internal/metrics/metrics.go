// Package metrics provides Prometheus instrumentation for the alarm
// broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Trigger pipeline metrics.
var (
	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_triggers_total",
		Help: "Total number of device trigger attempts, by outcome.",
	}, []string{"outcome"}) // created, duplicate, rejected

	TriggerRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_trigger_rate_limited_total",
		Help: "Total number of trigger attempts rejected by the rate limiter.",
	})
)

// Alarm lifecycle metrics.
var (
	AlarmsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_alarms_open",
		Help: "Number of alarms currently in TRIGGERED or ACKNOWLEDGED state.",
	})

	AlarmTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alarm_transitions_total",
		Help: "Total number of alarm state transitions, by resulting status.",
	}, []string{"status"})

	TimeToAcknowledgeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_time_to_acknowledge_seconds",
		Help:    "Elapsed time between an alarm's creation and its first acknowledgment.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Notification dispatch metrics.
var (
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_notifications_total",
		Help: "Total number of notification dispatch attempts, by channel and result.",
	}, []string{"channel", "result"})

	NotificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_notification_duration_seconds",
		Help:    "Notification dispatch duration in seconds, by channel.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_circuit_breaker_state",
		Help: "Circuit breaker state per channel adapter (0=closed, 1=half-open, 2=open).",
	}, []string{"channel"})
)

// Job queue metrics.
var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_queue_depth",
		Help: "Number of pending jobs in the escalation job queue.",
	})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_jobs_processed_total",
		Help: "Total number of queue jobs processed, by kind and outcome.",
	}, []string{"kind", "outcome"})
)
