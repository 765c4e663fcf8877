package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPMiddleware returns an http.Handler that records HTTP request
// count and duration metrics.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// normalizePath groups paths with a path parameter to avoid
// high-cardinality labels: /v1/alarms/<id> collapses to
// /v1/alarms/{id} regardless of the specific alarm id.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/alarms/bulk/"):
		return path
	case strings.HasPrefix(path, "/v1/alarms/") && strings.HasSuffix(path, "/ack"),
		strings.HasPrefix(path, "/v1/alarms/") && strings.HasSuffix(path, "/resolve"),
		strings.HasPrefix(path, "/v1/alarms/") && strings.HasSuffix(path, "/cancel"):
		return "/v1/alarms/{id}/" + path[strings.LastIndex(path, "/")+1:]
	case strings.HasPrefix(path, "/v1/alarms/") && strings.HasSuffix(path, "/notes"):
		return "/v1/alarms/{id}/notes"
	case strings.HasPrefix(path, "/v1/alarms/") && strings.HasSuffix(path, "/notifications"):
		return "/v1/alarms/{id}/notifications"
	case strings.HasPrefix(path, "/v1/alarms/") && path != "/v1/alarms/stats" && path != "/v1/alarms/export":
		return "/v1/alarms/{id}"
	case strings.HasPrefix(path, "/a/"):
		return "/a/{token}"
	default:
		return path
	}
}
