package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thoughtgate/thoughtgate/internal/nettune"
	"github.com/thoughtgate/thoughtgate/pkg/jsonrpc"
)

func newTestForwarder(t *testing.T, handler http.HandlerFunc) *Forwarder {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, nettune.Config{}, time.Second, 5*time.Second)
}

func TestForwardDecodesSuccessResponse(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	})

	req := &jsonrpc.Request{ID: jsonrpc.NewNumberID("1"), Method: "tools/call"}
	resp, err := f.Forward(context.Background(), req)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("Forward() unexpected error object: %v", resp.Error)
	}
	if string(resp.Result) != `{"ok":true}` {
		t.Errorf("Result = %s, want {\"ok\":true}", resp.Result)
	}
}

func TestForwardNotificationIgnoresEmptyBody(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := &jsonrpc.Request{Method: "notifications/initialized"}
	resp, err := f.Forward(context.Background(), req)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if resp == nil {
		t.Fatal("Forward() returned nil response for notification")
	}
}

func TestForwardErrorsOnNonSuccessStatus(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := &jsonrpc.Request{ID: jsonrpc.NewNumberID("1"), Method: "tools/call"}
	if _, err := f.Forward(context.Background(), req); err == nil {
		t.Error("expected error for 502 upstream status")
	}
}

func TestForwardErrorsWhenUpstreamUnreachable(t *testing.T) {
	t.Parallel()

	f := New("http://127.0.0.1:1", nettune.Config{}, 50*time.Millisecond, time.Second)
	req := &jsonrpc.Request{ID: jsonrpc.NewNumberID("1"), Method: "tools/call"}
	if _, err := f.Forward(context.Background(), req); err == nil {
		t.Error("expected error dialing an unreachable upstream")
	}
}
