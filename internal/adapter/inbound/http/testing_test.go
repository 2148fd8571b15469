package http

import (
	"context"
	"log/slog"
	"io"
	"time"

	"github.com/thoughtgate/thoughtgate/internal/adapter/outbound/memory"
	"github.com/thoughtgate/thoughtgate/internal/lifecycle"
	"github.com/thoughtgate/thoughtgate/internal/orchestrator"
	"github.com/thoughtgate/thoughtgate/internal/policy"
	"github.com/thoughtgate/thoughtgate/internal/principal"
	"github.com/thoughtgate/thoughtgate/pkg/jsonrpc"
)

// allowEngine is a stub policy.Engine that forwards every query, for
// tests that only care about transport-level behavior.
type allowEngine struct{}

func (allowEngine) Evaluate(q policy.Query) (policy.Verdict, error) {
	return policy.Forward("test"), nil
}
func (allowEngine) Stats() policy.Stats { return policy.Stats{} }

// echoForwarder is a stub orchestrator.Forwarder that answers every
// request with a trivial success result, echoing the request ID.
type echoForwarder struct{}

func (echoForwarder) Forward(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return jsonrpc.NewResultResponse(req.ID, []byte(`{"ok":true}`)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport() *HTTPTransport {
	orch := orchestrator.New(allowEngine{}, nil, memory.NewRateLimiter(), echoForwarder{},
		orchestrator.Config{}, testLogger())
	lm := lifecycle.New(lifecycle.Config{DrainTimeout: time.Second}, testLogger())
	lm.MarkReady()
	p := principal.Principal{AppName: "test-agent", Namespace: "test"}
	return NewHTTPTransport(orch, lm, p, "http://upstream.invalid", WithLogger(testLogger()))
}
