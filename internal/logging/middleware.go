package logging

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ackPathPrefix is the mount point of the single-use acknowledgment
// channel; its path segment after the prefix is the opaque ack_token
// itself, which must never reach the logs in cleartext.
const ackPathPrefix = "/a/"

// HTTPMiddleware returns an http.Handler that logs every request with
// method, path, status code and duration. Requests under ackPathPrefix
// have their path redacted since the token there is a bearer
// credential, not a routable identifier.
func HTTPMiddleware(next http.Handler) http.Handler {
	logger := slog.With("component", "http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Debug("request",
			"method", r.Method,
			"path", logPath(r.URL.Path),
			"status", rw.status,
			"duration", time.Since(start),
		)
	})
}

func logPath(path string) string {
	if strings.HasPrefix(path, ackPathPrefix) {
		return ackPathPrefix + "[redacted]"
	}
	return path
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController and middleware that need
// the underlying ResponseWriter (e.g. for Flush, Hijack).
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
