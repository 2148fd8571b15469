// Package celctx provides a small CEL environment used in two places that
// need a free-form predicate rather than Cedar's entity-UID matching:
// the policy engine's auxiliary context derivation (values computed from
// request facts and folded into the Cedar Context record so a Cedar
// policy can reference e.g. context.business_hours without Cedar itself
// growing a scripting layer) and the approval coordinator's reviewer
// reply classification (does this message count as approve/reject).
//
// Grounded on the teacher's CEL evaluator: same compile/validate/eval
// shape and the same safety limits (expression length, nesting depth,
// cost budget, eval timeout), trimmed to the variable set this proxy's
// evaluation context actually carries.
package celctx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	maxNestingDepth     = 50
	evalTimeout         = 5 * time.Second
	interruptCheckFreq  = 100
)

// Variables is the fact set a context expression or a reviewer-reply
// predicate may reference.
type Variables struct {
	PrincipalApp       string
	PrincipalNamespace string
	ResourceKind       string // "tool_call" | "mcp_method"
	ResourceName       string
	ResourceServer     string
	Arguments          map[string]any
	RequestTime        time.Time
	ReplyText          string // only populated for reviewer-reply predicates
}

func (v Variables) activation() map[string]any {
	args := v.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"principal_app":       v.PrincipalApp,
		"principal_namespace": v.PrincipalNamespace,
		"resource_kind":       v.ResourceKind,
		"resource_name":       v.ResourceName,
		"resource_server":     v.ResourceServer,
		"arguments":           args,
		"request_time":        v.RequestTime,
		"reply_text":          v.ReplyText,
	}
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("principal_app", cel.StringType),
		cel.Variable("principal_namespace", cel.StringType),
		cel.Variable("resource_kind", cel.StringType),
		cel.Variable("resource_name", cel.StringType),
		cel.Variable("resource_server", cel.StringType),
		cel.Variable("arguments", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request_time", cel.TimestampType),
		cel.Variable("reply_text", cel.StringType),
	)
}

// Evaluator compiles and evaluates expressions against Variables.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds an Evaluator with the fixed variable set above.
func NewEvaluator() (*Evaluator, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("celctx: build environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses, type-checks, and plans an expression.
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("celctx: compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("celctx: plan program: %w", err)
	}
	return prg, nil
}

// ValidateExpression enforces the length/nesting safety limits and
// confirms the expression compiles, without evaluating it.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("celctx: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("celctx: expression too long: %d chars (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	_, err := e.Compile(expr)
	return err
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("celctx: nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Eval runs a compiled program against vars and returns its raw result
// value (bool, string, number, ...) boxed as any, bounded by evalTimeout.
func (e *Evaluator) Eval(prg cel.Program, vars Variables) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, vars.activation())
	if err != nil {
		return nil, fmt.Errorf("celctx: evaluate: %w", err)
	}
	return result.Value(), nil
}

// EvalBool is Eval for predicates that must return a boolean, used by
// both context-derivation entries declared as booleans and by the
// approval coordinator's reply classifier.
func (e *Evaluator) EvalBool(prg cel.Program, vars Variables) (bool, error) {
	val, err := e.Eval(prg, vars)
	if err != nil {
		return false, err
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("celctx: expression did not return a boolean, got %T", val)
	}
	return b, nil
}

// ContextEntry names a single auxiliary context value: Name is the key
// it is folded into the Cedar Context record under; Expression is the
// CEL source producing its value.
type ContextEntry struct {
	Name       string
	Expression string
	compiled   cel.Program
}

// BuildContext compiles (if not already compiled) and evaluates each
// entry against vars, returning a flat map suitable for merging into a
// Cedar Context record. A failing entry is omitted rather than aborting
// the whole evaluation — a context predicate is an enrichment, not a
// required input, so one bad expression must not turn every request
// into a Reject.
func (e *Evaluator) BuildContext(entries []*ContextEntry, vars Variables) map[string]any {
	out := make(map[string]any, len(entries))
	for _, entry := range entries {
		if entry.compiled == nil {
			prg, err := e.Compile(entry.Expression)
			if err != nil {
				continue
			}
			entry.compiled = prg
		}
		val, err := e.Eval(entry.compiled, vars)
		if err != nil {
			continue
		}
		out[entry.Name] = val
	}
	return out
}
