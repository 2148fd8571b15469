// Package inspector defines the seam the Amber content-inspection layer
// (spec §9, explicitly out of scope for v0.1) plugs into: an ordered
// list of Inspectors consulted after a Forward verdict and before the
// request leaves the proxy.
//
// Per the Open Question decision recorded in DESIGN.md, no inspector
// ships in v0.1 — Chain is a concrete, empty hook (constructed with zero
// Inspectors) rather than a speculative interface layered in ahead of
// anything that uses it.
package inspector

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/thoughtgate/thoughtgate/pkg/jsonrpc"
)

// Inspector examines a Forward-bound request before it is dispatched
// upstream. MethodPattern restricts which JSON-RPC methods it runs for
// (gobwas/glob syntax over "/"-separated segments, e.g. "tools/*");
// an empty pattern matches every method.
type Inspector interface {
	Name() string
	MethodPattern() string
	Inspect(ctx context.Context, req *jsonrpc.Request) error
}

// Chain runs each Inspector whose MethodPattern matches, in order,
// stopping at the first error. An empty Chain is a no-op.
type Chain struct {
	inspectors []Inspector
	globs      []glob.Glob
}

// NewChain compiles every Inspector's MethodPattern once so Run never
// pays glob-compile cost per request.
func NewChain(inspectors ...Inspector) (*Chain, error) {
	c := &Chain{inspectors: inspectors}
	for _, insp := range inspectors {
		pattern := insp.MethodPattern()
		if pattern == "" {
			pattern = "**"
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile method pattern %q for inspector %q: %w", pattern, insp.Name(), err)
		}
		c.globs = append(c.globs, g)
	}
	return c, nil
}

// Run executes every matching Inspector in chain order. A nil Chain
// (the v0.1 default — no inspectors configured) always returns nil.
func (c *Chain) Run(ctx context.Context, req *jsonrpc.Request) error {
	if c == nil {
		return nil
	}
	for i, insp := range c.inspectors {
		if !c.globs[i].Match(req.Method) {
			continue
		}
		if err := insp.Inspect(ctx, req); err != nil {
			return fmt.Errorf("inspector %q: %w", insp.Name(), err)
		}
	}
	return nil
}
