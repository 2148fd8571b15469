package cedar

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	cedarpkg "github.com/cedar-policy/cedar-go"
	"github.com/cedar-policy/cedar-go/types"

	"github.com/thoughtgate/thoughtgate/internal/adapter/outbound/celctx"
	"github.com/thoughtgate/thoughtgate/internal/policy"
	"github.com/thoughtgate/thoughtgate/internal/resource"
)

// Engine implements policy.Engine against cedar-go. The held bundle is
// swapped atomically by the reload loop (reload.go); Evaluate always
// reads a single consistent snapshot, matching spec §3's "no policy-set
// mutation is observable mid-evaluation."
//
// This generalizes the teacher's ReverseProxy.targets atomic.Pointer
// lock-free-read pattern (internal/adapter/inbound/httpgw/reverse_proxy.go)
// from a target list to a policy bundle.
type Engine struct {
	current atomic.Pointer[bundle]

	defaultApprovalTimeout time.Duration
	contextEntries         []*celctx.ContextEntry
	ctxEval                *celctx.Evaluator

	logger *slog.Logger

	// stats are independent atomics rather than fields behind the same
	// pointer as the bundle, so reading them never contends with — or
	// waits on — the reload swap path (spec §4.4 "Reading stats MUST
	// NOT block evaluation").
	policyCount     atomic.Int64
	lastReloadUnix  atomic.Int64
	reloadOKTotal   atomic.Int64
	reloadFailTotal atomic.Int64
	evalTotal       atomic.Int64
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithDefaultApprovalTimeout sets the deadline attached to Approve
// verdicts (APPROVAL_TIMEOUT_SECS).
func WithDefaultApprovalTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultApprovalTimeout = d }
}

// WithContextEntries supplies the auxiliary CEL-derived context
// predicates folded into every Cedar Context record (§11, §12.1).
func WithContextEntries(entries []*celctx.ContextEntry, eval *celctx.Evaluator) Option {
	return func(e *Engine) {
		e.contextEntries = entries
		e.ctxEval = eval
	}
}

// NewEngine constructs an Engine with an initial bundle. Use
// LoadInitialBundle to select it per spec §4.4's loading priority
// before calling NewEngine.
func NewEngine(initial *bundle, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		defaultApprovalTimeout: 5 * time.Minute,
		logger:                 logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.current.Store(initial)
	e.policyCount.Store(int64(initial.policySet.PolicyCount()))
	e.lastReloadUnix.Store(time.Now().Unix())
	return e
}

// LoadInitialBundle resolves spec §4.4's loading priority: a file path,
// then an environment-variable blob, then the built-in permissive
// default (logged at WARN as unsafe).
func LoadInitialBundle(policyFilePath, policiesBlob, schemaFilePath string, readFile func(string) ([]byte, error), logger *slog.Logger) (*bundle, error) {
	schemaBytes, err := optionalFile(schemaFilePath, readFile)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	switch {
	case policyFilePath != "":
		data, err := readFile(policyFilePath)
		if err != nil {
			return nil, fmt.Errorf("read policy file %s: %w", policyFilePath, err)
		}
		return loadBundle(data, schemaBytes, "file:"+policyFilePath)
	case policiesBlob != "":
		return loadBundle([]byte(policiesBlob), schemaBytes, "env:POLICIES")
	default:
		logger.Warn("no POLICY_FILE or POLICIES configured; using built-in permissive default policy", "unsafe", true)
		return loadBundle([]byte(builtinDefaultPolicy), nil, "builtin-default")
	}
}

func optionalFile(path string, readFile func(string) ([]byte, error)) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return readFile(path)
}

// Evaluate implements policy.Engine. It checks Action::"Forward" first,
// then Action::"Approve", returning Reject if neither is permitted —
// the fixed, first-hit-wins order from spec §4.4.
func (e *Engine) Evaluate(q policy.Query) (policy.Verdict, error) {
	e.evalTotal.Add(1)
	b := e.current.Load()

	principalType, principalID := q.Principal.UID()
	principalUID := types.NewEntityUID(types.EntityType(principalType), types.String(principalID))
	resourceUID := types.NewEntityUID(types.EntityType(q.Resource.EntityType()), types.String(q.Resource.Name))

	ctxRecord := e.buildContext(q)
	entities := types.EntityMap{}

	forwardReq := cedarpkg.Request{
		Principal: principalUID,
		Action:    types.NewEntityUID("Action", actionForward),
		Resource:  resourceUID,
		Context:   ctxRecord,
	}
	if decision, _ := b.policySet.IsAuthorized(entities, forwardReq); decision == cedarpkg.Allow {
		return policy.Forward(b.source), nil
	}

	approveReq := forwardReq
	approveReq.Action = types.NewEntityUID("Action", actionApprove)
	if decision, _ := b.policySet.IsAuthorized(entities, approveReq); decision == cedarpkg.Allow {
		return policy.Approve(e.defaultApprovalTimeout, b.source), nil
	}

	return policy.Reject("no policy permits this request"), nil
}

func (e *Engine) buildContext(q policy.Query) types.Record {
	fields := types.RecordMap{}
	if e.ctxEval != nil && len(e.contextEntries) > 0 {
		vars := celctx.Variables{
			PrincipalApp:       q.Principal.AppName,
			PrincipalNamespace: q.Principal.Namespace,
			ResourceKind:       resourceKindString(q.Resource),
			ResourceName:       q.Resource.Name,
			ResourceServer:     q.Resource.Server,
			Arguments:          q.Arguments,
			RequestTime:        q.Now,
		}
		for k, v := range e.ctxEval.BuildContext(e.contextEntries, vars) {
			fields[types.String(k)] = toRecordValue(v)
		}
	}
	return types.NewRecord(fields)
}

func resourceKindString(r resource.Resource) string {
	if r.Kind == resource.KindToolCall {
		return "tool_call"
	}
	return "mcp_method"
}

// toRecordValue boxes a CEL result value as a Cedar record value. Only
// the shapes a context predicate would plausibly produce are handled;
// anything else is rendered as its string form rather than dropped, so
// a misconfigured expression is visible in the Context record instead
// of silently vanishing.
func toRecordValue(v any) types.Value {
	switch t := v.(type) {
	case bool:
		return types.Boolean(t)
	case string:
		return types.String(t)
	case int64:
		return types.Long(t)
	case float64:
		return types.Long(int64(t))
	default:
		return types.String(fmt.Sprintf("%v", t))
	}
}

// Stats implements policy.Engine.
func (e *Engine) Stats() policy.Stats {
	return policy.Stats{
		PolicyCount:     e.policyCount.Load(),
		LastReloadUnix:  e.lastReloadUnix.Load(),
		ReloadOKTotal:   e.reloadOKTotal.Load(),
		ReloadFailTotal: e.reloadFailTotal.Load(),
		EvalTotal:       e.evalTotal.Load(),
	}
}

var _ policy.Engine = (*Engine)(nil)
