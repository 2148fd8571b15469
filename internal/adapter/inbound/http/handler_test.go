package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doRequest(h http.Handler, method, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/mcp", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlePostForwardsRequestAndReturnsResult(t *testing.T) {
	t.Parallel()

	transport := newTestTransport()
	h := mcpHandler(transport)

	rec := doRequest(h, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"x"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("body = %s, want it to contain the forwarded result", rec.Body.String())
	}
	if got := rec.Header().Get(MCPProtocolVersionHeader); got != MCPProtocolVersion {
		t.Errorf("protocol version header = %q, want %q", got, MCPProtocolVersion)
	}
}

func TestHandlePostNotificationReturns204(t *testing.T) {
	t.Parallel()

	transport := newTestTransport()
	h := mcpHandler(transport)

	rec := doRequest(h, http.MethodPost, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestHandlePostRejectsWrongContentType(t *testing.T) {
	t.Parallel()

	transport := newTestTransport()
	h := mcpHandler(transport)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (JSON-RPC errors render as 200)", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Parse error") {
		t.Errorf("body = %s, want a parse error", rec.Body.String())
	}
}

func TestHandlePostRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	transport := newTestTransport()
	h := mcpHandler(transport)

	rec := doRequest(h, http.MethodPost, `not json`)
	if !strings.Contains(rec.Body.String(), "Parse error") {
		t.Errorf("body = %s, want a parse error", rec.Body.String())
	}
}

func TestHandlePostRejectsMissingJSONRPCVersion(t *testing.T) {
	t.Parallel()

	transport := newTestTransport()
	h := mcpHandler(transport)

	rec := doRequest(h, http.MethodPost, `{"method":"tools/call","id":1}`)
	if !strings.Contains(rec.Body.String(), "Invalid Request") {
		t.Errorf("body = %s, want an invalid request error", rec.Body.String())
	}
}

func TestHandlePostBatchReturnsArray(t *testing.T) {
	t.Parallel()

	transport := newTestTransport()
	h := mcpHandler(transport)

	rec := doRequest(h, http.MethodPost, `[{"jsonrpc":"2.0","id":1,"method":"tools/call"},{"jsonrpc":"2.0","id":2,"method":"tools/call"}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "[") {
		t.Errorf("body = %s, want a JSON array for a batch request", rec.Body.String())
	}
}

func TestHandleOptionsReturnsNoContent(t *testing.T) {
	t.Parallel()

	transport := newTestTransport()
	h := mcpHandler(transport)

	rec := doRequest(h, http.MethodOptions, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("missing Access-Control-Allow-Methods header")
	}
}

func TestHandleUnsupportedMethodReturns405(t *testing.T) {
	t.Parallel()

	transport := newTestTransport()
	h := mcpHandler(transport)

	rec := doRequest(h, http.MethodPut, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
