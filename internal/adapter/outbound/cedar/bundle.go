// Package cedar adapts cedar-go to the policy.Engine port (spec §4.4).
// It is the concrete, swappable-at-runtime half of the policy engine;
// internal/policy holds the pure Verdict/Query types this package
// translates to and from Cedar's entity-UID request shape.
package cedar

import (
	"fmt"

	cedarpkg "github.com/cedar-policy/cedar-go"
	"github.com/cespare/xxhash/v2"
)

// bundle is one immutable, schema-validated policy snapshot. Every
// evaluation reads a *bundle through the engine's atomic.Pointer; a
// bundle is never mutated after construction, matching spec §3's
// "Policy set... immutable, schema-validated... readers never block
// writers and vice versa."
type bundle struct {
	policySet *cedarpkg.PolicySet
	schema    *cedarpkg.Schema // nil when no schema was configured
	source    string           // human-readable origin, for logs: "file:<path>", "env", "builtin-default"
	hash      uint64           // xxhash of the raw policy bytes, for the reload skip-check
}

// actionForward, actionApprove are the two named actions the engine
// checks, in that fixed order (spec §4.4). Reject is not a Cedar
// action: it is the absence of permission for either.
const (
	actionForward = "Forward"
	actionApprove = "Approve"
)

// loadBundle parses policyBytes as a Cedar policy set, optionally
// validates it against schemaBytes, and returns the resulting bundle.
// Any failure at either step means the caller MUST keep serving the
// previous bundle (spec §4.4 "An invalid bundle MUST never replace a
// valid one") — this function itself is side-effect free.
func loadBundle(policyBytes, schemaBytes []byte, source string) (*bundle, error) {
	policySet, err := cedarpkg.NewPolicySetFromBytes(source, policyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse policy set: %w", err)
	}

	var schema *cedarpkg.Schema
	if len(schemaBytes) > 0 {
		schema, err = cedarpkg.NewSchemaFromJSON(schemaBytes)
		if err != nil {
			return nil, fmt.Errorf("parse schema: %w", err)
		}
		if err := policySet.Validate(schema); err != nil {
			return nil, fmt.Errorf("schema validation: %w", err)
		}
	}

	return &bundle{
		policySet: policySet,
		schema:    schema,
		source:    source,
		hash:      xxhash.Sum64(policyBytes),
	}, nil
}

// builtinDefaultPolicy is the unsafe permissive fallback used only when
// neither POLICY_FILE nor POLICIES is configured (spec §4.4 "Loading
// priority"). It permits Forward for every principal/action/resource,
// matching the teacher's "dev-allow-all" precedent generalized to Cedar
// policy text.
const builtinDefaultPolicy = `permit(principal, action == Action::"Forward", resource);`
