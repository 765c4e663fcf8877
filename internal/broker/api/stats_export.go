package api

import (
	"encoding/json"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/silentline/sentinel/internal/broker/httperr"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/store"
)

// handleStats returns a coarse open/closed breakdown per status. It
// walks ListAlarms a page at a time rather than adding a dedicated
// COUNT query, since the admin surface has no SLA on this endpoint.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := map[model.AlarmStatus]int{}
	f := store.AlarmFilter{Limit: 200}
	for {
		alarms, err := s.store.ListAlarms(r.Context(), f)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		for i := range alarms {
			counts[alarms[i].Status]++
		}
		if len(alarms) < f.Limit {
			break
		}
		last := alarms[len(alarms)-1]
		f.CursorCreatedAt = &last.CreatedAt
		f.CursorID = last.ID.String()
	}
	httperr.WriteJSON(w, http.StatusOK, map[string]any{
		"triggered":    counts[model.StatusTriggered],
		"acknowledged": counts[model.StatusAcknowledged],
		"resolved":     counts[model.StatusResolved],
		"cancelled":    counts[model.StatusCancelled],
	})
}

// handleExport streams every non-deleted alarm as gzip-compressed
// newline-delimited JSON, paging through ListAlarms so the whole
// table is never held in memory at once.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="alarms.ndjson.gz"`)

	gz := gzip.NewWriter(w)
	defer gz.Close()
	enc := json.NewEncoder(gz)

	f := store.AlarmFilter{Limit: 200}
	for {
		alarms, err := s.store.ListAlarms(r.Context(), f)
		if err != nil {
			return
		}
		for i := range alarms {
			if err := enc.Encode(toDTO(&alarms[i])); err != nil {
				return
			}
		}
		if len(alarms) < f.Limit {
			break
		}
		last := alarms[len(alarms)-1]
		f.CursorCreatedAt = &last.CreatedAt
		f.CursorID = last.ID.String()
		if flusher, ok := w.(http.Flusher); ok {
			_ = gz.Flush()
			flusher.Flush()
		}
	}
}
