package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/thoughtgate/thoughtgate/pkg/jsonrpc"
)

type stubInspector struct {
	name    string
	pattern string
	err     error
	called  bool
}

func (s *stubInspector) Name() string          { return s.name }
func (s *stubInspector) MethodPattern() string { return s.pattern }
func (s *stubInspector) Inspect(ctx context.Context, req *jsonrpc.Request) error {
	s.called = true
	return s.err
}

func TestNilChainRunIsNoOp(t *testing.T) {
	var c *Chain
	req := &jsonrpc.Request{Method: "tools/call"}
	if err := c.Run(context.Background(), req); err != nil {
		t.Fatalf("nil chain should never error, got %v", err)
	}
}

func TestChainSkipsNonMatchingInspectors(t *testing.T) {
	tools := &stubInspector{name: "tools-only", pattern: "tools/*"}
	everything := &stubInspector{name: "everything"}

	c, err := NewChain(tools, everything)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	req := &jsonrpc.Request{Method: "resources/list"}
	if err := c.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tools.called {
		t.Error("tools-only inspector should not run for resources/list")
	}
	if !everything.called {
		t.Error("wildcard inspector should run for every method")
	}
}

func TestChainStopsAtFirstError(t *testing.T) {
	failing := &stubInspector{name: "failing", err: errors.New("blocked")}
	never := &stubInspector{name: "never"}

	c, err := NewChain(failing, never)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	req := &jsonrpc.Request{Method: "tools/call", Params: json.RawMessage(`{}`)}
	if err := c.Run(context.Background(), req); err == nil {
		t.Fatal("expected error from failing inspector")
	}
	if never.called {
		t.Error("inspector after a failing one should not run")
	}
}

func TestNewChainRejectsInvalidPattern(t *testing.T) {
	bad := &stubInspector{name: "bad", pattern: "[unterminated"}
	if _, err := NewChain(bad); err == nil {
		t.Fatal("expected error compiling invalid glob pattern")
	}
}
