// Package upstream implements the orchestrator.Forwarder that sends a
// single JSON-RPC request to the one MCP server this proxy fronts and
// decodes its response.
//
// Grounded on internal/adapter/outbound/mcp/http_client.go's sendRequest:
// same one-shot POST-and-decode shape, generalized from the teacher's
// pipe-backed, session-tracking, multi-upstream MCP client down to a
// single synchronous request/response round trip per jsonrpc.Request,
// since ThoughtGate has exactly one upstream and never needs to multiplex
// an MCP session of its own (the downstream client's session id is
// handled entirely by the inbound adapter).
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/thoughtgate/thoughtgate/internal/nettune"
	"github.com/thoughtgate/thoughtgate/pkg/jsonrpc"
)

// maxResponseBodyBytes bounds how much of the upstream's response this
// forwarder will read, matching the teacher's HTTPClient limit so a
// misbehaving upstream can't exhaust memory by never closing its body.
const maxResponseBodyBytes = 10 << 20 // 10MiB

// Forwarder sends JSON-RPC requests to a single upstream MCP server over
// HTTP and implements orchestrator.Forwarder.
type Forwarder struct {
	endpoint   string
	httpClient *http.Client
}

// New builds a Forwarder dialing endpoint, applying socket tuning cfg to
// every outbound connection the pool opens (internal/nettune).
func New(endpoint string, cfg nettune.Config, dialTimeout, requestTimeout time.Duration) *Forwarder {
	dialer := &net.Dialer{
		Timeout: dialTimeout,
		Control: nettune.DialControl(cfg),
	}
	return &Forwarder{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					conn, err := dialer.DialContext(ctx, network, addr)
					if err != nil {
						return nil, err
					}
					_ = nettune.Apply(conn, cfg)
					return conn, nil
				},
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Forward implements orchestrator.Forwarder: encode req, POST it to the
// single configured upstream, and decode whatever comes back. The
// orchestrator maps any returned error to CodeUpstreamUnavailable itself,
// so this method never needs to classify the failure further.
func (f *Forwarder) Forward(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := marshalRequest(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream: http status %d", resp.StatusCode)
	}

	// A notification draws no response body under Streamable HTTP (202
	// Accepted, empty body); the caller discards whatever Response is
	// returned for notifications, so an empty placeholder is enough.
	if req.IsNotification() || len(bytes.TrimSpace(respBody)) == 0 {
		return &jsonrpc.Response{ID: req.ID}, nil
	}

	return unmarshalResponse(respBody)
}

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *jsonrpc.ID     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func marshalRequest(req *jsonrpc.Request) ([]byte, error) {
	w := wireRequest{JSONRPC: jsonrpc.Version, Method: req.Method, Params: req.Params}
	if req.ID.IsSet() {
		id := req.ID
		w.ID = &id
	}
	return json.Marshal(w)
}

type wireResponse struct {
	ID     jsonrpc.ID           `json:"id"`
	Result json.RawMessage      `json:"result,omitempty"`
	Error  *jsonrpc.ErrorObject `json:"error,omitempty"`
}

func unmarshalResponse(data []byte) (*jsonrpc.Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("upstream: decode response: %w", err)
	}
	return &jsonrpc.Response{ID: w.ID, Result: w.Result, Error: w.Error}, nil
}
