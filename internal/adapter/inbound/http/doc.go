// Package http is ThoughtGate's single inbound transport: one listener
// speaking JSON-RPC 2.0 over MCP's Streamable HTTP, per spec §4.2.
//
// # Usage
//
//	transport := http.NewHTTPTransport(orch, lifecycleMgr, detectedPrincipal, upstreamURL,
//	    http.WithAddr(":8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithAllowedOrigins([]string{"https://example.com"}),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /mcp  - JSON-RPC request or batch, dispatched through the orchestrator
//	GET  /mcp  - WebSocket upgrade relayed directly to upstream
//	GET  /healthz - component health, 503 if any check fails
//	GET  /readyz  - 503 once a drain has begun (internal/lifecycle)
//	GET  /metrics - Prometheus exposition
//
// # Request headers
//
//	Content-Type: application/json   - required for POST
//	Mcp-Session-Id: <session-id>     - echoed back on every response
//
// # Response headers
//
//	MCP-Protocol-Version: 2025-06-18
//	Mcp-Session-Id: <session-id>     - generated on "initialize"
//
// # Middleware chain
//
// Outermost first: MetricsMiddleware, RequestIDMiddleware, RealIPMiddleware,
// DNSRebindingProtection, APIKeyMiddleware, then the method router.
package http
