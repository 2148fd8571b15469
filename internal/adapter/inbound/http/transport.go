// Package http provides ThoughtGate's single inbound transport: one
// HTTP listener speaking JSON-RPC 2.0 over MCP's Streamable HTTP, plus
// the WebSocket upgrade carve-out spec §4.2 describes for transports
// that need a long-lived bidirectional stream instead of request/response.
//
// Grounded on the teacher's internal/adapter/inbound/http/transport.go:
// same functional-options HTTPTransport struct and Start/shutdown/Close
// shape, generalized from a proxy-service-per-stdio-pair wrapper to a
// single orchestrator wired to exactly one upstream, with the process
// lifecycle manager driving /readyz and in-flight tracking instead of
// the teacher's own ad hoc session-channel bookkeeping.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thoughtgate/thoughtgate/internal/lifecycle"
	"github.com/thoughtgate/thoughtgate/internal/nettune"
	"github.com/thoughtgate/thoughtgate/internal/orchestrator"
	"github.com/thoughtgate/thoughtgate/internal/principal"
)

// HTTPTransport is ThoughtGate's inbound adapter: it terminates client
// connections, classifies and dispatches JSON-RPC requests through the
// orchestrator, and relays WebSocket upgrades directly to the upstream.
type HTTPTransport struct {
	orchestrator *orchestrator.Orchestrator
	lifecycle    *lifecycle.Manager
	principal    principal.Principal
	upstreamURL  string

	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	maxRequestBody int64
	socketCfg      nettune.Config
	logger         *slog.Logger
	extraHandler   http.Handler
	metrics        *Metrics
	healthChecker  *HealthChecker
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Defaults to "0.0.0.0:8080".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) { t.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowlist DNS rebinding protection checks
// the Origin header against. An empty list blocks every request that
// carries an Origin header (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) { t.allowedOrigins = origins }
}

// WithLogger sets the transport's base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) { t.logger = logger }
}

// WithMaxRequestBody overrides the inbound body size cap
// (MAX_REQUEST_BODY_BYTES). Defaults to 1 MiB.
func WithMaxRequestBody(n int64) Option {
	return func(t *HTTPTransport) { t.maxRequestBody = n }
}

// WithSocketConfig sets the TCP tuning (TCP_NODELAY, keepalive, socket
// buffer sizes) applied to the inbound listener (internal/nettune).
func WithSocketConfig(cfg nettune.Config) Option {
	return func(t *HTTPTransport) { t.socketCfg = cfg }
}

// WithExtraHandler adds a handler consulted for routes the transport
// doesn't own itself (e.g. an admin surface).
func WithExtraHandler(h http.Handler) Option {
	return func(t *HTTPTransport) { t.extraHandler = h }
}

// WithHealthChecker sets the health checker backing /healthz.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) { t.healthChecker = hc }
}

// NewHTTPTransport builds a transport dispatching through orch, tracking
// in-flight requests and drain state through lm, and relaying WebSocket
// upgrades to upstreamURL. p is this sidecar's own detected principal
// (internal/principal.Detect), evaluated once at startup and reused for
// every request since ThoughtGate authenticates the sidecar's identity,
// not a per-request caller.
func NewHTTPTransport(orch *orchestrator.Orchestrator, lm *lifecycle.Manager, p principal.Principal, upstreamURL string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		orchestrator:   orch,
		lifecycle:      lm,
		principal:      p,
		upstreamURL:    upstreamURL,
		addr:           "0.0.0.0:8080",
		allowedOrigins: []string{},
		maxRequestBody: 1 << 20,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins accepting HTTP connections. It blocks until ctx is
// cancelled or the server stops with an unexpected error.
func (t *HTTPTransport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg)

	mcp := mcpHandler(t)
	mcp = APIKeyMiddleware(mcp)
	mcp = DNSRebindingProtection(t.allowedOrigins)(mcp)
	mcp = RealIPMiddleware(mcp)
	mcp = RequestIDMiddleware(t.logger)(mcp)
	mcp = MetricsMiddleware(t.metrics)(mcp)

	mux := http.NewServeMux()
	if t.extraHandler != nil {
		mux.Handle("/admin/", t.extraHandler)
		mux.Handle("/admin", t.extraHandler)
	}
	if t.healthChecker != nil {
		mux.Handle("/healthz", t.healthChecker.Handler())
	} else {
		mux.Handle("/healthz", healthHandler())
	}
	mux.Handle("/readyz", t.readyHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/mcp", mcp)
	mux.Handle("/mcp/", mcp)
	mux.Handle("/", mcp)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: mux,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			_ = nettune.Apply(c, t.socketCfg)
			return ctx
		},
	}
	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ln, err := nettune.ListenConfig(t.socketCfg).Listen(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS listener", "addr", ln.Addr())
			err = t.server.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP listener", "addr", ln.Addr())
			err = t.server.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	t.lifecycle.MarkReady()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP listener")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// readyHandler reports 200 while the lifecycle manager considers the
// process ready, and 503 once a drain has begun — the signal a load
// balancer needs to stop sending new traffic before the drain timeout
// forces in-flight work to abort.
func (t *HTTPTransport) readyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.lifecycle.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"draining"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
}

// shutdown gracefully stops the HTTP server. The lifecycle manager
// (registered as a Stoppable elsewhere) drives the drain timeout; this
// method only needs to stop accepting new connections and let
// http.Server's own Shutdown wait out whatever is already in flight.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during HTTP listener shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP listener shutdown complete")
	return nil
}

// Close implements lifecycle.Stoppable.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

// Stop implements lifecycle.Stoppable.
func (t *HTTPTransport) Stop(ctx context.Context) error {
	return t.Close()
}
