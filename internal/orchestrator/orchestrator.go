// Package orchestrator implements the request dispatch table spec §4.6
// describes: classify each JSON-RPC element, run it through the policy
// engine, and act on the verdict (forward, gate on approval, or reject),
// fanning batch elements out concurrently while preserving response
// order.
//
// Grounded on internal/service/proxy_service.go's ProxyService — same
// shape (a struct holding its outbound dependencies plus a logger,
// pulling a request-scoped logger out of context via ctxkey.LoggerKey
// when present) generalized from its bidirectional stdio pipe copy to a
// per-request JSON-RPC dispatch, since ThoughtGate has exactly one
// upstream and one transport rather than the teacher's multi-upstream
// stdio/HTTP bridge.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thoughtgate/thoughtgate/internal/approval"
	"github.com/thoughtgate/thoughtgate/internal/ctxkey"
	"github.com/thoughtgate/thoughtgate/internal/domain/ratelimit"
	"github.com/thoughtgate/thoughtgate/internal/domain/validation"
	"github.com/thoughtgate/thoughtgate/internal/inspector"
	"github.com/thoughtgate/thoughtgate/internal/policy"
	"github.com/thoughtgate/thoughtgate/internal/principal"
	"github.com/thoughtgate/thoughtgate/internal/resource"
	"github.com/thoughtgate/thoughtgate/pkg/jsonrpc"
)

// toolSanitizer is stateless (its rules are package-level), so one
// instance serves every request.
var toolSanitizer = validation.NewSanitizer()

func loggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

// Forwarder sends a single JSON-RPC request upstream and returns its
// response. It is the one dependency the orchestrator never implements
// itself — the HTTP adapter supplies an implementation wired to the
// configured UPSTREAM_URL.
type Forwarder interface {
	Forward(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
}

// Config carries the tunables named in spec §6 that govern dispatch
// rather than any one subsystem: MAX_CONCURRENT_STREAMS and the rate
// limit applied per principal.
type Config struct {
	MaxConcurrent       int
	RateLimit           ratelimit.RateLimitConfig
	DefaultApprovalWait time.Duration

	// Chain is the Amber content-inspection seam (spec §9, §14). Nil in
	// v0.1 — no inspector ships yet, but Forward-bound requests already
	// run through the hook so a future inspector needs no orchestrator
	// change to plug in.
	Chain *inspector.Chain
}

// Orchestrator wires the policy engine, approval coordinator, rate
// limiter, and upstream forwarder together behind the dispatch table.
type Orchestrator struct {
	engine      policy.Engine
	coordinator *approval.Coordinator
	limiter     ratelimit.RateLimiter
	forwarder   Forwarder
	cfg         Config
	logger      *slog.Logger

	sem          chan struct{}
	shuttingDown atomic.Bool
}

// New builds an Orchestrator. sem is sized to cfg.MaxConcurrent (0 means
// unbounded). The policy engine's own context-derivation (celctx) is
// wired inside the concrete engine implementation, not here — the
// orchestrator only ever sees the resulting Verdict.
func New(engine policy.Engine, coordinator *approval.Coordinator, limiter ratelimit.RateLimiter, forwarder Forwarder, cfg Config, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		engine:      engine,
		coordinator: coordinator,
		limiter:     limiter,
		forwarder:   forwarder,
		cfg:         cfg,
		logger:      logger,
	}
	if cfg.MaxConcurrent > 0 {
		o.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return o
}

// BeginDrain stops new requests from acquiring a concurrency slot,
// letting in-flight ones finish; the lifecycle manager's Drain calls
// this (through Stop) before waiting on its own in-flight counter.
func (o *Orchestrator) BeginDrain() {
	o.shuttingDown.Store(true)
}

// Stop implements lifecycle.Stoppable: it is equivalent to BeginDrain,
// named to satisfy the generic shutdown-sequence interface the process
// lifecycle manager drives every registered component through.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.BeginDrain()
	return nil
}

// acquire reserves a concurrency slot, refusing immediately with
// CodeShuttingDown if a drain is in progress, per spec's shutdown
// contract rather than silently queuing work that will never complete.
func (o *Orchestrator) acquire(ctx context.Context) (func(), error) {
	if o.shuttingDown.Load() {
		return nil, fmt.Errorf("thoughtgate is shutting down")
	}
	if o.sem == nil {
		return func() {}, nil
	}
	select {
	case o.sem <- struct{}{}:
		return func() { <-o.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConnLivenessFunc reports whether the downstream connection identified
// by connRef is still writable, supplied by the HTTP adapter (which alone
// knows about the underlying net.Conn) and forwarded into the approval
// coordinator's zombie-execution check.
type ConnLivenessFunc func(connRef string) bool

// Handle dispatches one already-parsed JSON-RPC body (single object or
// batch) and returns the rendered response bytes, whether the body was
// empty (all notifications, caller must reply 204), and any transport
// level error.
func (o *Orchestrator) Handle(ctx context.Context, p principal.Principal, connRef string, isLive ConnLivenessFunc, reqs []*jsonrpc.Request, isBatch bool) ([]byte, bool, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		resp := jsonrpc.NewErrorResponse(reqs[0].ID, jsonrpc.NewAppError(jsonrpc.CodeShuttingDown, "server is shutting down", "", 1))
		return renderSingleOrBatch([]*jsonrpc.Response{resp}, isBatch)
	}
	defer release()

	logger := loggerFromContext(ctx, o.logger)

	if o.limiter != nil {
		key := ratelimit.FormatKey(ratelimit.KeyTypeUser, p.AppName)
		result, err := o.limiter.Allow(ctx, key, o.cfg.RateLimit)
		if err == nil && !result.Allowed {
			resp := jsonrpc.NewErrorResponse(reqs[0].ID,
				jsonrpc.NewAppError(jsonrpc.CodeRateLimited, "rate limit exceeded", "", int(result.RetryAfter.Seconds())))
			return renderSingleOrBatch([]*jsonrpc.Response{resp}, isBatch)
		}
	}

	elements := make([]*element, len(reqs))
	for i, req := range reqs {
		elements[i] = &element{req: req, index: i}
	}

	o.classifyAndEvaluate(ctx, p, elements, logger)

	anyApprove := false
	for _, el := range elements {
		if el.skip {
			continue
		}
		if el.verdict.Action == policy.ActionApprove {
			anyApprove = true
			break
		}
	}

	if anyApprove {
		o.runBatchApproval(ctx, p, connRef, isLive, elements, logger)
	} else {
		o.runIndependently(ctx, elements, logger)
	}

	responses := make([]*jsonrpc.Response, 0, len(elements))
	for _, el := range elements {
		if el.req.IsNotification() {
			continue
		}
		responses = append(responses, el.response)
	}
	return renderSingleOrBatch(responses, isBatch)
}

type element struct {
	req      *jsonrpc.Request
	index    int
	class    jsonrpc.MethodClass
	resrc    resource.Resource
	verdict  policy.Verdict
	skip     bool // pass-through or internal-task: no policy verdict computed
	response *jsonrpc.Response
}

func (o *Orchestrator) classifyAndEvaluate(ctx context.Context, p principal.Principal, elements []*element, logger *slog.Logger) {
	for _, el := range elements {
		el.class = jsonrpc.ClassifyMethod(el.req.Method)
		switch el.class {
		case jsonrpc.ClassInternalTask:
			el.skip = true
			el.response = jsonrpc.NewErrorResponse(el.req.ID, jsonrpc.NewAppError(jsonrpc.CodeTaskNotFound, "task methods are not implemented", "", 0))
			continue
		case jsonrpc.ClassPassThrough:
			el.skip = true
			continue
		}

		if !validation.IsValidMCPMethod(el.req.Method) {
			el.skip = true
			el.response = jsonrpc.NewErrorResponse(el.req.ID, jsonrpc.NewAppError(jsonrpc.CodeMethodNotFound, "method not found", "", 0))
			continue
		}

		if el.req.Method == "tools/call" {
			sanitized, err := sanitizeToolCallParams(el.req.Params)
			if err != nil {
				el.skip = true
				el.response = jsonrpc.NewErrorResponse(el.req.ID, jsonrpc.NewAppError(jsonrpc.CodeInvalidParams, err.Error(), "", 0))
				continue
			}
			el.req.Params = sanitized
		}

		el.resrc = resourceForMethod(el.req.Method, el.req.Params)
		verdict, err := o.engine.Evaluate(policy.Query{
			Principal: p,
			Resource:  el.resrc,
			Arguments: argsFromParams(el.req.Params),
			Now:       time.Now(),
		})
		if err != nil {
			logger.Warn("policy evaluation failed", "method", el.req.Method, "error", err)
			el.response = jsonrpc.NewErrorResponse(el.req.ID, jsonrpc.NewAppError(jsonrpc.CodeInternalError, "policy evaluation failed", "", 0))
			el.skip = true
			continue
		}
		el.verdict = verdict
	}
}

// runIndependently evaluates and forwards/rejects each element on its own,
// fanned out with errgroup so one slow upstream call does not block the
// rest of the batch, per spec §4.3's ordering guarantee ("processed
// concurrently but the response array preserves input order").
func (o *Orchestrator) runIndependently(ctx context.Context, elements []*element, logger *slog.Logger) {
	g, gctx := errgroup.WithContext(ctx)
	for _, el := range elements {
		el := el
		if el.skip && el.class != jsonrpc.ClassPassThrough {
			continue
		}
		g.Go(func() error {
			switch el.verdict.Action {
			case policy.ActionReject:
				el.response = jsonrpc.NewErrorResponse(el.req.ID, jsonrpc.NewAppError(jsonrpc.CodePolicyDenied, el.verdict.Reason, "", 0))
			default: // Forward
				el.response = o.forward(gctx, el.req, logger)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// runBatchApproval implements "if any element's verdict is Approve, the
// entire batch is upgraded to a single atomic approval with the
// highest-restriction rule (approvals win over forwards)": one approval
// record gates every element, and its resolution is applied uniformly.
func (o *Orchestrator) runBatchApproval(ctx context.Context, p principal.Principal, connRef string, isLive ConnLivenessFunc, elements []*element, logger *slog.Logger) {
	timeout := o.cfg.DefaultApprovalWait
	summary := batchSummary(elements)
	for _, el := range elements {
		if !el.skip && el.verdict.Action == policy.ActionApprove && el.verdict.Timeout > 0 {
			timeout = el.verdict.Timeout
			break
		}
	}

	if o.coordinator == nil {
		applyToAll(elements, jsonrpc.NewAppError(jsonrpc.CodePolicyDenied, "approval required but no reviewer channel is configured", "", 0))
		return
	}

	record, err := o.coordinator.Submit(ctx, summary, p.AppName, nil, timeout)
	if err != nil {
		logger.Warn("failed to submit batch approval request", "error", err)
		applyToAll(elements, jsonrpc.NewAppError(jsonrpc.CodeInternalError, "approval request failed", "", 0))
		return
	}

	res := o.coordinator.WaitFor(ctx, record, connRef, isLive)
	switch res.Outcome {
	case approval.Approved:
		o.forwardAll(ctx, elements, logger)
	case approval.Rejected:
		applyToAll(elements, jsonrpc.NewAppError(jsonrpc.CodeApprovalRejected, firstNonEmpty(res.Reason, "rejected by reviewer"), "", 0))
	case approval.TimedOut:
		applyToAll(elements, jsonrpc.NewAppError(jsonrpc.CodeApprovalTimeout, "approval timed out", "", 0))
	case approval.ClientGone:
		// Per spec §4.5: do nothing. The connection is already gone, so
		// there is no response to send and no upstream forward to make.
	}
}

func (o *Orchestrator) forwardAll(ctx context.Context, elements []*element, logger *slog.Logger) {
	g, gctx := errgroup.WithContext(ctx)
	for _, el := range elements {
		el := el
		if el.skip && el.class != jsonrpc.ClassPassThrough {
			continue // internal-task elements already carry their -32601 response
		}
		g.Go(func() error {
			el.response = o.forward(gctx, el.req, logger)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) forward(ctx context.Context, req *jsonrpc.Request, logger *slog.Logger) *jsonrpc.Response {
	if err := o.cfg.Chain.Run(ctx, req); err != nil {
		logger.Warn("inspector chain rejected request", "method", req.Method, "error", err)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewAppError(jsonrpc.CodePolicyDenied, err.Error(), "", 0))
	}
	resp, err := o.forwarder.Forward(ctx, req)
	if err != nil {
		logger.Warn("upstream forward failed", "method", req.Method, "error", err)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewAppError(jsonrpc.CodeUpstreamUnavailable, "upstream unavailable", "", 0))
	}
	return resp
}

func applyToAll(elements []*element, errObj *jsonrpc.ErrorObject) {
	for _, el := range elements {
		if el.skip && el.class == jsonrpc.ClassInternalTask {
			continue
		}
		el.response = &jsonrpc.Response{ID: el.req.ID, Error: errObj}
	}
}

func batchSummary(elements []*element) string {
	names := make([]string, 0, len(elements))
	for _, el := range elements {
		if !el.skip {
			names = append(names, el.req.Method)
		}
	}
	if len(names) == 0 {
		return "batch approval request"
	}
	b, _ := json.Marshal(names)
	return fmt.Sprintf("Approval requested for batch: %s", string(b))
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func resourceForMethod(method string, params json.RawMessage) resource.Resource {
	if method == "tools/call" {
		if name, ok := extractToolName(params); ok {
			return resource.ToolCall(name, "")
		}
	}
	return resource.McpMethod(method, "")
}

func extractToolName(params json.RawMessage) (string, bool) {
	var decoded struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &decoded); err != nil || decoded.Name == "" {
		return "", false
	}
	return decoded.Name, true
}

// sanitizeToolCallParams validates the tool name and strips null bytes /
// truncates oversized strings from tool call arguments before they reach
// policy evaluation or the upstream server.
func sanitizeToolCallParams(params json.RawMessage) (json.RawMessage, error) {
	var decoded map[string]any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return nil, fmt.Errorf("invalid tool call params")
	}
	sanitized, err := toolSanitizer.SanitizeToolCall(decoded)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sanitized)
}

func argsFromParams(params json.RawMessage) map[string]any {
	var decoded struct {
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &decoded); err != nil {
		return nil
	}
	return decoded.Arguments
}

func renderSingleOrBatch(responses []*jsonrpc.Response, isBatch bool) ([]byte, bool, error) {
	bw := jsonrpc.NewBatchWriter(len(responses))
	for i, r := range responses {
		bw.Set(i, r)
	}
	return bw.Render(isBatch)
}
