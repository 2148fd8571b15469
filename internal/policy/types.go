// Package policy defines the engine's pure value types: the verdict it
// returns, the query it accepts, and the read-only statistics it
// exposes. The Cedar-backed implementation lives in
// internal/adapter/outbound/cedar; this package stays independent of
// cedar-go so the verdict types remain, per spec §3, "pure values...
// carry no references to engine state."
package policy

import (
	"time"

	"github.com/thoughtgate/thoughtgate/internal/principal"
	"github.com/thoughtgate/thoughtgate/internal/resource"
)

// Action is the tag of a Verdict.
type Action int

const (
	// ActionForward permits the request onto the Green path.
	ActionForward Action = iota
	// ActionApprove routes the request to the Approval path.
	ActionApprove
	// ActionReject blocks the request without contacting upstream.
	ActionReject
)

// Verdict is the tagged sum { Forward | Approve{timeout} | Reject{reason} }
// from spec §3. Exactly one Action applies; the other fields are
// meaningful only for their corresponding Action.
type Verdict struct {
	Action  Action
	Timeout time.Duration // meaningful iff Action == ActionApprove
	Reason  string        // meaningful iff Action == ActionReject
	RuleID  string        // identifies the bundle/policy that produced this verdict, for logs
}

// Forward builds a Forward verdict.
func Forward(ruleID string) Verdict {
	return Verdict{Action: ActionForward, RuleID: ruleID}
}

// Approve builds an Approve verdict with the given deadline.
func Approve(timeout time.Duration, ruleID string) Verdict {
	return Verdict{Action: ActionApprove, Timeout: timeout, RuleID: ruleID}
}

// Reject builds a Reject verdict with the given human-readable reason.
// The reason MUST NOT embed policy rule text (§7 Non-disclosure); it is
// the fixed string documented in spec §4.4 unless a more specific
// rejection reason is itself safe to disclose.
func Reject(reason string) Verdict {
	return Verdict{Action: ActionReject, Reason: reason}
}

// Query is the (principal, resource, context?) triple the engine
// evaluates (spec §4.4's Contract).
type Query struct {
	Principal principal.Principal
	Resource  resource.Resource
	Arguments map[string]any
	Now       time.Time
}

// Stats are the read-only counters the engine exposes without blocking
// evaluation (spec §4.4 "Statistics"). Populated via atomic.Int64 loads
// by the concrete engine; this struct is a plain snapshot.
type Stats struct {
	PolicyCount     int64
	LastReloadUnix  int64
	ReloadOKTotal   int64
	ReloadFailTotal int64
	EvalTotal       int64
}

// Engine evaluates Queries against the currently loaded policy set.
type Engine interface {
	Evaluate(q Query) (Verdict, error)
	Stats() Stats
}
