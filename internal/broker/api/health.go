package api

import (
	"net/http"

	"github.com/silentline/sentinel/internal/broker/httperr"
	"github.com/silentline/sentinel/internal/broker/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks the one dependency that matters for
// readiness: can the store round-trip a query. A failing DB means the
// process should stop receiving traffic but need not restart.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListAlarms(r.Context(), store.AlarmFilter{Limit: 1}); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleHealthzDetails(w http.ResponseWriter, r *http.Request) {
	details := map[string]any{"db": "ok"}
	if s.queue != nil {
		if depth, err := s.queue.Depth(r.Context()); err != nil {
			details["queue"] = "error: " + err.Error()
		} else {
			details["queue_depth"] = depth
		}
	}
	httperr.WriteJSON(w, http.StatusOK, details)
}
