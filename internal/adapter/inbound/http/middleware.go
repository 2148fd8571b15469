// Package http provides ThoughtGate's single inbound transport.
package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/thoughtgate/thoughtgate/internal/ctxkey"
)

// requestIDContextKey is the context key type for the request ID.
type requestIDContextKey struct{}

// RequestIDKey is the context key under which the request ID is stored.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the request-enriched logger. It uses
// the shared ctxkey type so packages outside this one (the orchestrator,
// via loggerFromContext) can read it without importing this package.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware extracts or generates a request ID, enriches the
// logger with it, and stores both in the request context.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enriched)

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the request-enriched logger, falling back
// to slog.Default() if none was set (a request that never passed through
// RequestIDMiddleware, e.g. in a unit test).
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// DNSRebindingProtection validates the Origin header against an
// allowlist. An empty allowlist blocks every request carrying an Origin
// header; requests without one (same-origin or non-browser) always pass.
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// apiKeyContextKey carries the bearer token presented by the caller, if
// any, through to wherever the principal's roles get attributed to it in
// a future release. v0.1's principal is detected once at process
// startup (internal/principal.Detect) rather than derived per request,
// and nothing in this module reads this key.
type apiKeyContextKey struct{}

// APIKeyContextKey is the context key under which a presented bearer
// token, if any, is stored.
var APIKeyContextKey = apiKeyContextKey{}

// APIKeyMiddleware extracts a bearer token from the Authorization header
// into the request context. It never rejects a request itself: v0.1 has
// no API-key-based authentication path of its own (the sidecar's identity
// comes from internal/principal.Detect). The Authorization header itself
// is left on the request unchanged.
func APIKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token := strings.TrimPrefix(auth, "Bearer ")
			ctx := context.WithValue(r.Context(), APIKeyContextKey, token)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// ipAddressContextKey carries the caller's real IP address.
type ipAddressContextKey struct{}

// IPAddressKey is the context key under which the caller's real IP is
// stored. Rate limiting does not read it: it keys on the principal only.
var IPAddressKey = ipAddressContextKey{}

// RealIPMiddleware extracts the caller's address from X-Forwarded-For or
// X-Real-IP (reverse proxy headers), falling back to r.RemoteAddr.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), IPAddressKey, extractRealIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractRealIP trusts only the first hop of X-Forwarded-For (the
// client's own address) to avoid a downstream proxy spoofing the chain.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
