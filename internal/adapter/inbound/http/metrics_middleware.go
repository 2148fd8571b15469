// Package http provides ThoughtGate's single inbound transport.
package http

import (
	"net/http"
	"time"
)

// MetricsMiddleware records request_duration_seconds and requests_total
// for every request, keyed by the HTTP method (the JSON-RPC method isn't
// known until the body is parsed further down the chain). Its verdict
// label is the HTTP-level outcome (ok/error); nothing else increments
// requests_total, so policy verdicts do not appear in it.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			metrics.RequestDuration.WithLabelValues(r.Method).Observe(duration)
			metrics.RequestsTotal.WithLabelValues(r.Method, statusToVerdict(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code
// written, since ResponseWriter itself exposes no way to read it back.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush delegates to the underlying ResponseWriter when it supports
// http.Flusher, required for the WebSocket upgrade path's streaming
// writes to pass through the metrics wrapper untouched.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusToVerdict(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
