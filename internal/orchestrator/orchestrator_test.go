package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/thoughtgate/thoughtgate/internal/approval"
	"github.com/thoughtgate/thoughtgate/internal/approval/reviewer"
	"github.com/thoughtgate/thoughtgate/internal/policy"
	"github.com/thoughtgate/thoughtgate/internal/principal"
	"github.com/thoughtgate/thoughtgate/pkg/jsonrpc"
)

type stubEngine struct {
	verdicts map[string]policy.Verdict
}

func (s *stubEngine) Evaluate(q policy.Query) (policy.Verdict, error) {
	if v, ok := s.verdicts[q.Resource.Name]; ok {
		return v, nil
	}
	return policy.Reject("no policy permits this request"), nil
}

func (s *stubEngine) Stats() policy.Stats { return policy.Stats{} }

type stubForwarder struct{ calls int }

func (f *stubForwarder) Forward(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	f.calls++
	return jsonrpc.NewResultResponse(req.ID, json.RawMessage(`{"ok":true}`)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func toolCallRequest(id, tool string) *jsonrpc.Request {
	params, _ := json.Marshal(map[string]any{"name": tool})
	req, _ := jsonrpc.ParseRequest([]byte(`{"jsonrpc":"2.0","id":` + id + `,"method":"tools/call","params":` + string(params) + `}`))
	return req
}

func TestHandleForwardsSinglePermittedRequest(t *testing.T) {
	engine := &stubEngine{verdicts: map[string]policy.Verdict{"get_time": policy.Forward("test")}}
	forwarder := &stubForwarder{}
	orch := New(engine, nil, nil, forwarder, Config{}, testLogger())

	req := toolCallRequest("1", "get_time")
	body, empty, err := orch.Handle(context.Background(), principal.Principal{AppName: "agent-a"}, "conn-1", alwaysLive, []*jsonrpc.Request{req}, false)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if empty {
		t.Fatal("expected a non-empty response")
	}
	if forwarder.calls != 1 {
		t.Errorf("expected 1 upstream forward, got %d", forwarder.calls)
	}
	var resp jsonrpc.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Errorf("expected no error, got %v", resp.Error)
	}
}

func TestHandleRejectsDeniedRequestWithoutForwarding(t *testing.T) {
	engine := &stubEngine{verdicts: map[string]policy.Verdict{}}
	forwarder := &stubForwarder{}
	orch := New(engine, nil, nil, forwarder, Config{}, testLogger())

	req := toolCallRequest("1", "delete_user")
	body, _, err := orch.Handle(context.Background(), principal.Principal{AppName: "agent-a"}, "conn-1", alwaysLive, []*jsonrpc.Request{req}, false)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if forwarder.calls != 0 {
		t.Errorf("expected 0 upstream forwards for a rejected request, got %d", forwarder.calls)
	}
	var resp jsonrpc.Response
	json.Unmarshal(body, &resp)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodePolicyDenied {
		t.Errorf("expected CodePolicyDenied, got %+v", resp.Error)
	}
}

func TestHandleBatchMixedVerdictsUpgradesToApproval(t *testing.T) {
	engine := &stubEngine{verdicts: map[string]policy.Verdict{
		"read_file":   policy.Forward("test"),
		"delete_user": policy.Approve(time.Second, "test"),
	}}
	forwarder := &stubForwarder{}
	ch := newStubChannel()
	coordinator := approval.NewCoordinator(ch, approval.Config{PollInterval: 5 * time.Millisecond, ApproveReaction: "thumbsup"}, nil, testLogger())

	orch := New(engine, coordinator, nil, forwarder, Config{DefaultApprovalWait: time.Second}, testLogger())

	reqs := []*jsonrpc.Request{
		toolCallRequest("1", "read_file"),
		toolCallRequest("2", "delete_user"),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		body, _, err := orch.Handle(context.Background(), principal.Principal{AppName: "agent-a"}, "conn-1", alwaysLive, reqs, true)
		if err != nil {
			t.Errorf("Handle: %v", err)
			return
		}
		var responses []jsonrpc.Response
		if err := json.Unmarshal(body, &responses); err != nil {
			t.Errorf("unmarshal batch response: %v", err)
			return
		}
		if len(responses) != 2 {
			t.Errorf("expected 2 responses, got %d", len(responses))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go coordinator.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	ch.approveAll()

	<-done
	if forwarder.calls != 2 {
		t.Errorf("expected both batch elements forwarded after approval, got %d calls", forwarder.calls)
	}
}

func TestHandleRejectsUnknownPolicyGovernedMethod(t *testing.T) {
	engine := &stubEngine{verdicts: map[string]policy.Verdict{}}
	forwarder := &stubForwarder{}
	orch := New(engine, nil, nil, forwarder, Config{}, testLogger())

	req, err := jsonrpc.ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/frobnicate","params":{}}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	body, _, err := orch.Handle(context.Background(), principal.Principal{AppName: "agent-a"}, "conn-1", alwaysLive, []*jsonrpc.Request{req}, false)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if forwarder.calls != 0 {
		t.Errorf("expected 0 upstream forwards for an unknown method, got %d", forwarder.calls)
	}
	var resp jsonrpc.Response
	json.Unmarshal(body, &resp)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeMethodNotFound {
		t.Errorf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestHandleRejectsInvalidToolName(t *testing.T) {
	engine := &stubEngine{verdicts: map[string]policy.Verdict{}}
	forwarder := &stubForwarder{}
	orch := New(engine, nil, nil, forwarder, Config{}, testLogger())

	req := toolCallRequest("1", "../etc/passwd")
	body, _, err := orch.Handle(context.Background(), principal.Principal{AppName: "agent-a"}, "conn-1", alwaysLive, []*jsonrpc.Request{req}, false)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if forwarder.calls != 0 {
		t.Errorf("expected 0 upstream forwards for an invalid tool name, got %d", forwarder.calls)
	}
	var resp jsonrpc.Response
	json.Unmarshal(body, &resp)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidParams {
		t.Errorf("expected CodeInvalidParams, got %+v", resp.Error)
	}
}

func TestHandleStripsNullBytesFromToolArguments(t *testing.T) {
	engine := &stubEngine{verdicts: map[string]policy.Verdict{"get_time": policy.Forward("test")}}
	forwarder := &stubForwarder{}
	orch := New(engine, nil, nil, forwarder, Config{}, testLogger())

	params, _ := json.Marshal(map[string]any{
		"name":      "get_time",
		"arguments": map[string]any{"zone": "UTC\x00; rm -rf /"},
	})
	req, err := jsonrpc.ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":` + string(params) + `}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	if _, _, err := orch.Handle(context.Background(), principal.Principal{AppName: "agent-a"}, "conn-1", alwaysLive, []*jsonrpc.Request{req}, false); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if forwarder.calls != 1 {
		t.Fatalf("expected 1 upstream forward, got %d", forwarder.calls)
	}
	if bytesContainNull(req.Params) {
		t.Error("expected null bytes to be stripped from forwarded params")
	}
}

func bytesContainNull(raw json.RawMessage) bool {
	for _, b := range raw {
		if b == 0 {
			return true
		}
	}
	return false
}

func alwaysLive(string) bool { return true }

type stubChannel struct {
	refs     []string
	approved bool
}

func newStubChannel() *stubChannel { return &stubChannel{} }

func (s *stubChannel) Post(ctx context.Context, text string) (reviewer.Message, error) {
	ref := "ref-1"
	s.refs = append(s.refs, ref)
	return reviewer.Message{Ref: ref}, nil
}

func (s *stubChannel) History(ctx context.Context, refs []string) (reviewer.History, error) {
	if !s.approved {
		return reviewer.History{}, nil
	}
	var reactions []reviewer.Reaction
	for _, ref := range refs {
		reactions = append(reactions, reviewer.Reaction{Emoji: "thumbsup", UserID: "U1", MessageID: ref, At: time.Now()})
	}
	return reviewer.History{Reactions: reactions}, nil
}

func (s *stubChannel) LookupUser(ctx context.Context, userID string) (string, error) {
	return userID, nil
}

func (s *stubChannel) EditMessage(ctx context.Context, ref, text string) error { return nil }

func (s *stubChannel) approveAll() { s.approved = true }
