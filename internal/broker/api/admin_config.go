package api

import (
	"io"
	"net/http"

	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/seed"
)

// applySeedBody reads and applies a seed-shaped document from the
// request body, sharing the same parser/upsert path the bootstrap
// loader uses. /v1/admin/devices and /v1/admin/escalation-policy are
// thin wrappers over the same machinery, scoped by convention to the
// one top-level key each name implies ("devices", "escalation_policy");
// /v1/admin/seed accepts the full document shape.
func (s *Server) applySeedBody(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, r, model.NewValidation("body", "could not read request body"))
		return
	}
	doc, err := seed.Parse(r.Header.Get("Content-Type"), raw)
	if err != nil {
		writeErr(w, r, model.NewValidation("body", "invalid seed document: %v", err))
		return
	}
	if err := seed.Apply(r.Context(), s.store, doc); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminSeed(w http.ResponseWriter, r *http.Request) {
	s.applySeedBody(w, r)
}

func (s *Server) handleAdminDevices(w http.ResponseWriter, r *http.Request) {
	s.applySeedBody(w, r)
}

func (s *Server) handleAdminEscalationPolicy(w http.ResponseWriter, r *http.Request) {
	s.applySeedBody(w, r)
}
