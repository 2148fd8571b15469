// Package http provides ThoughtGate's single inbound transport.
package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
)

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// Check is a single named component health probe. It returns a
// human-readable status string (never an error message a caller needs
// to parse) and whether the component is healthy.
type Check func() (status string, healthy bool)

// HealthChecker runs a fixed set of named component checks and reports
// 503 if any of them is unhealthy. Generalizes the teacher's
// HealthChecker, which held concrete pointers to its own session store,
// rate limiter, and audit service; this version takes named closures so
// it never needs to import every outbound adapter ThoughtGate wires up.
type HealthChecker struct {
	checks  map[string]Check
	version string
}

// NewHealthChecker builds a HealthChecker running the given named
// checks. version is reported in the response, e.g. a build tag.
func NewHealthChecker(version string, checks map[string]Check) *HealthChecker {
	return &HealthChecker{checks: checks, version: version}
}

// Check runs every registered probe and reports the aggregate status.
func (h *HealthChecker) Check() HealthResponse {
	results := make(map[string]string, len(h.checks)+1)
	healthy := true
	for name, check := range h.checks {
		status, ok := check()
		results[name] = status
		if !ok {
			healthy = false
		}
	}
	results["goroutines"] = strconv.Itoa(runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: results, Version: h.version}
}

// Handler returns the /healthz HTTP handler.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
