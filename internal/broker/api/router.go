// Package api is the operator-facing HTTP surface: list/inspect/patch
// alarms, drive lifecycle transitions one at a time or in bulk,
// attach notes, and export the alarm log. Every route under /v1/alarms
// and /v1/admin is gated by the constant-time admin-key middleware in
// auth.go.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/silentline/sentinel/internal/broker/ack"
	"github.com/silentline/sentinel/internal/broker/alarm"
	"github.com/silentline/sentinel/internal/broker/channel"
	"github.com/silentline/sentinel/internal/broker/clock"
	"github.com/silentline/sentinel/internal/broker/config"
	"github.com/silentline/sentinel/internal/broker/httperr"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/broker/trigger"
	"github.com/silentline/sentinel/internal/logging"
	"github.com/silentline/sentinel/internal/metrics"
)

type Server struct {
	store             *store.Store
	machine           *alarm.Machine
	pipeline          *trigger.Pipeline
	queue             *queue.Queue
	mock              *channel.MockAdapter
	clock             clock.Clock
	validate          *validator.Validate
	ack               *ack.Handler
	triggerTokenParam string
	addrResolver      clientAddrResolver
}

// New builds the chi router. mock is non-nil only in simulation mode,
// enabling the /v1/admin/mock endpoints used by tests and demos.
func New(cfg config.HTTPConfig, st *store.Store, m *alarm.Machine, pipeline *trigger.Pipeline, q *queue.Queue, mock *channel.MockAdapter, c clock.Clock) http.Handler {
	if c == nil {
		c = clock.Real{}
	}
	tokenParam := cfg.TriggerTokenParam
	if tokenParam == "" {
		tokenParam = "token"
	}
	s := &Server{
		store: st, machine: m, pipeline: pipeline, queue: q, mock: mock, clock: c,
		validate: validator.New(), ack: ack.New(st, m, q),
		triggerTokenParam: tokenParam,
		addrResolver:      newClientAddrResolver(trigger.AllowlistFunc(cfg.TrustedProxies)),
	}

	r := chi.NewRouter()
	r.Use(logging.HTTPMiddleware)
	r.Use(metrics.HTTPMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "X-Admin-Key", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(requestIDMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/healthz/details", s.handleHealthzDetails)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/yealink/alarm", s.handleTrigger)
	r.Get("/a/{token}", s.handleAckGet)
	r.Post("/a/{token}", s.handleAckPost)

	r.Route("/v1/alarms", func(r chi.Router) {
		r.Use(adminAuth(cfg.AdminAPIKey))

		r.Get("/", s.handleListAlarms)
		r.Get("/stats", s.handleStats)
		r.Get("/export", s.handleExport)
		r.Get("/{id}", s.handleGetAlarm)
		r.Patch("/{id}", s.handlePatchAlarm)
		r.Delete("/{id}", s.handleDeleteAlarm)
		r.Post("/{id}/ack", s.handleSingleTransition(model.StatusAcknowledged))
		r.Post("/{id}/resolve", s.handleSingleTransition(model.StatusResolved))
		r.Post("/{id}/cancel", s.handleSingleTransition(model.StatusCancelled))
		r.Post("/bulk/ack", s.handleBulkTransition(model.StatusAcknowledged))
		r.Post("/bulk/resolve", s.handleBulkTransition(model.StatusResolved))
		r.Post("/bulk/cancel", s.handleBulkTransition(model.StatusCancelled))
		r.Post("/{id}/notes", s.handleCreateNote)
		r.Get("/{id}/notes", s.handleListNotes)
		r.Get("/{id}/notifications", s.handleListNotifications)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(adminAuth(cfg.AdminAPIKey))

		r.Post("/devices", s.handleAdminDevices)
		r.Post("/escalation-policy", s.handleAdminEscalationPolicy)
		r.Post("/seed", s.handleAdminSeed)

		if mock != nil {
			r.Get("/mock/notifications", s.handleMockNotifications)
			r.Post("/mock/reset", s.handleMockReset)
		}
	})

	return r
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = genRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func genRequestID() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	httperr.Write(w, r, err)
}
