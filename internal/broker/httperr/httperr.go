// Package httperr maps a model.Error's Kind onto an HTTP status code
// and writes it as a single JSON error envelope, so every endpoint in
// internal/broker/api renders failures the same way.
package httperr

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/silentline/sentinel/internal/broker/model"
)

type envelope struct {
	Error   string         `json:"error"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByKind = map[model.Kind]int{
	model.KindValidation:       http.StatusBadRequest,
	model.KindNotFound:         http.StatusNotFound,
	model.KindConflict:         http.StatusConflict,
	model.KindConnector:        http.StatusBadGateway,
	model.KindRateLimit:        http.StatusTooManyRequests,
	model.KindAuthentication:   http.StatusUnauthorized,
	model.KindAuthorization:    http.StatusForbidden,
	model.KindConfiguration:    http.StatusInternalServerError,
	model.KindTransientFailure: http.StatusServiceUnavailable,
}

// Write renders err as a JSON envelope with the appropriate status. A
// non-broker error is logged with its full detail and rendered to the
// client as an opaque 500 — internal errors never leak past this line.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var be *model.Error
	if !errors.As(err, &be) {
		slog.Error("unhandled error", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "internal error"})
		return
	}
	status, ok := statusByKind[be.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		slog.Error("request failed", "path", r.URL.Path, "kind", be.Kind, "error", be.Error())
	}
	writeJSON(w, status, envelope{Error: be.Message, Field: be.Field, Details: be.Details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteJSON writes any successful payload as a 200 JSON body (or the
// given status).
func WriteJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}
