package cedar

import (
	"log/slog"
	"testing"
	"time"

	"github.com/thoughtgate/thoughtgate/internal/policy"
	"github.com/thoughtgate/thoughtgate/internal/principal"
	"github.com/thoughtgate/thoughtgate/internal/resource"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func mustBundle(t *testing.T, policyText string) *bundle {
	t.Helper()
	b, err := loadBundle([]byte(policyText), nil, "test")
	if err != nil {
		t.Fatalf("loadBundle: %v", err)
	}
	return b
}

func TestEvaluateForwardWins(t *testing.T) {
	b := mustBundle(t, `
permit(principal, action == Action::"Forward", resource == ToolCall::"get_time");
permit(principal, action == Action::"Approve", resource);
`)
	engine := NewEngine(b, testLogger())

	verdict, err := engine.Evaluate(policy.Query{
		Principal: principal.Principal{AppName: "agent-a"},
		Resource:  resource.ToolCall("get_time", "srv"),
		Now:       time.Now(),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Action != policy.ActionForward {
		t.Errorf("expected Forward to win when both Forward and Approve are permitted, got %v", verdict.Action)
	}
}

func TestEvaluateApproveWhenForwardDenied(t *testing.T) {
	b := mustBundle(t, `
permit(principal, action == Action::"Forward", resource == ToolCall::"get_time");
permit(principal, action == Action::"Approve", resource == ToolCall::"delete_user");
`)
	engine := NewEngine(b, testLogger(), WithDefaultApprovalTimeout(90*time.Second))

	verdict, err := engine.Evaluate(policy.Query{
		Principal: principal.Principal{AppName: "agent-a"},
		Resource:  resource.ToolCall("delete_user", "srv"),
		Now:       time.Now(),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Action != policy.ActionApprove {
		t.Fatalf("expected Approve, got %v", verdict.Action)
	}
	if verdict.Timeout != 90*time.Second {
		t.Errorf("expected configured approval timeout, got %v", verdict.Timeout)
	}
}

func TestEvaluateRejectWhenNeitherPermitted(t *testing.T) {
	b := mustBundle(t, `
permit(principal, action == Action::"Forward", resource == ToolCall::"get_time");
`)
	engine := NewEngine(b, testLogger())

	verdict, err := engine.Evaluate(policy.Query{
		Principal: principal.Principal{AppName: "agent-a"},
		Resource:  resource.ToolCall("delete_user", "srv"),
		Now:       time.Now(),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Action != policy.ActionReject {
		t.Fatalf("expected Reject, got %v", verdict.Action)
	}
	if verdict.Reason == "" {
		t.Error("expected a non-empty rejection reason")
	}
}

func TestStatsDoNotBlockOnReload(t *testing.T) {
	b := mustBundle(t, `permit(principal, action == Action::"Forward", resource);`)
	engine := NewEngine(b, testLogger())

	before := engine.Stats()
	if before.PolicyCount == 0 {
		t.Error("expected non-zero policy count")
	}

	newBundle := mustBundle(t, `
permit(principal, action == Action::"Forward", resource);
permit(principal, action == Action::"Approve", resource);
`)
	engine.current.Store(newBundle)
	engine.policyCount.Store(2)
	engine.reloadOKTotal.Add(1)

	after := engine.Stats()
	if after.PolicyCount != 2 {
		t.Errorf("expected policy count 2 after reload, got %d", after.PolicyCount)
	}
	if after.ReloadOKTotal != 1 {
		t.Errorf("expected reload_ok_total 1, got %d", after.ReloadOKTotal)
	}
}

func TestInvalidBundleIsRejected(t *testing.T) {
	_, err := loadBundle([]byte(`this is not cedar policy text`), nil, "test")
	if err == nil {
		t.Error("expected an error parsing invalid policy text")
	}
}
