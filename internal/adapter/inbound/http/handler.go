// Package http provides ThoughtGate's single inbound transport.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/thoughtgate/thoughtgate/internal/streaming"
	"github.com/thoughtgate/thoughtgate/pkg/jsonrpc"
)

// MCPProtocolVersion is the MCP protocol version this handler speaks.
const MCPProtocolVersion = "2025-06-18"

// MCPSessionIDHeader is the header used for session identification.
const MCPSessionIDHeader = "Mcp-Session-Id"

// MCPProtocolVersionHeader is the header carrying the protocol version.
const MCPProtocolVersionHeader = "MCP-Protocol-Version"

// mcpHandler routes by method and carve-out: a WebSocket upgrade is
// relayed message by message to the upstream via streaming.RelayUpgrade,
// never through the policy engine (spec §4.2's one exception to
// the JSON-RPC dispatch path); everything else is a JSON-RPC POST.
func mcpHandler(t *HTTPTransport) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if streaming.IsUpgradeRequest(r) {
			handleUpgrade(w, r, t)
			return
		}
		switch r.Method {
		case http.MethodPost:
			handlePost(w, r, t)
		case http.MethodOptions:
			handleOptions(w, r)
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// handleUpgrade relays a WebSocket handshake straight through to the
// configured upstream; it never touches the policy engine because the
// frame-level dispatch table has no way to classify individual WebSocket
// messages (spec §4.2's documented gap, not an oversight).
func handleUpgrade(w http.ResponseWriter, r *http.Request, t *HTTPTransport) {
	logger := LoggerFromContext(r.Context())
	if err := streaming.RelayUpgrade(w, r, t.upstreamURL, nil, logger); err != nil {
		logger.Warn("websocket upgrade relay failed", "error", err)
	}
}

// handlePost reads one JSON-RPC body (single object or batch), dispatches
// it through the orchestrator, and writes the rendered response.
func handlePost(w http.ResponseWriter, r *http.Request, t *HTTPTransport) {
	logger := LoggerFromContext(r.Context())
	endRequest := t.lifecycle.BeginRequest()
	defer endRequest()

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		writeJSONRPCError(w, jsonrpc.NewParseErrorResponse(requestIDFromContext(r.Context())))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, t.maxRequestBody)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONRPCError(w, jsonrpc.NewParseErrorResponse(requestIDFromContext(r.Context())))
			return
		}
		writeJSONRPCError(w, jsonrpc.NewParseErrorResponse(requestIDFromContext(r.Context())))
		return
	}

	reqs, isBatch, err := jsonrpc.ParseBody(body)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrInvalidRequest) {
			writeJSONRPCError(w, jsonrpc.NewInvalidRequestResponse(requestIDFromContext(r.Context())))
			return
		}
		writeJSONRPCError(w, jsonrpc.NewParseErrorResponse(requestIDFromContext(r.Context())))
		return
	}

	connRef := requestIDFromContext(r.Context())
	ctx := r.Context()
	isLive := func(ref string) bool { return ctx.Err() == nil }

	payload, empty, err := t.orchestrator.Handle(ctx, t.principal, connRef, isLive, reqs, isBatch)
	if err != nil {
		if ctx.Err() != nil {
			return // client disconnected, nothing to write
		}
		logger.Error("orchestrator dispatch failed", "error", err)
		writeJSONRPCError(w, jsonrpc.NewErrorResponse(jsonrpc.NewNullID(),
			jsonrpc.NewAppError(jsonrpc.CodeInternalError, "internal error", connRef, 0)))
		return
	}

	w.Header().Set(MCPProtocolVersionHeader, MCPProtocolVersion)
	if sessionID := r.Header.Get(MCPSessionIDHeader); sessionID != "" {
		w.Header().Set(MCPSessionIDHeader, sessionID)
	}

	if empty {
		// All elements were notifications: reply 204 No Content rather
		// than an empty JSON array (§4.3).
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if len(reqs) == 1 && !isBatch && reqs[0].Method == "initialize" {
		w.Header().Set(MCPSessionIDHeader, uuid.New().String())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleOptions answers CORS preflight requests.
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, MCP-Protocol-Version")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// writeJSONRPCError writes a single transport-level error response: for
// malformed bodies the orchestrator never gets to see, and for a failed
// orchestrator dispatch.
func writeJSONRPCError(w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors still return 200 OK
	_ = json.NewEncoder(w).Encode(resp)
}

// healthHandler is the fallback /healthz handler used when no
// HealthChecker was configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
