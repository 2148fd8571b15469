package jsonrpc

import "encoding/json"

// BatchWriter accumulates per-element responses for a batch request,
// preserving input order and omitting notification slots, per §4.3's
// response-framing rule and §8's round-trip law ("a batch of n requests
// with k notifications produces exactly n-k response elements in input
// order").
type BatchWriter struct {
	slots []*Response // nil slot == notification, skipped at render time
}

// NewBatchWriter pre-sizes the result slice so concurrent writers (the
// orchestrator's errgroup fan-out) can set slots by index without a lock.
func NewBatchWriter(n int) *BatchWriter {
	return &BatchWriter{slots: make([]*Response, n)}
}

// Set records the response for batch element i. Passing nil marks the
// slot as a notification (no response entry).
func (b *BatchWriter) Set(i int, resp *Response) {
	b.slots[i] = resp
}

// Responses returns the non-nil slots in input order.
func (b *BatchWriter) Responses() []*Response {
	out := make([]*Response, 0, len(b.slots))
	for _, r := range b.slots {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Render marshals either a single response, a JSON array of responses,
// or reports that the body is empty (all elements were notifications),
// in which case the caller MUST emit HTTP 204 rather than an empty JSON
// array (§4.3 "Response framing").
func (b *BatchWriter) Render(isBatch bool) (body []byte, empty bool, err error) {
	responses := b.Responses()
	if len(responses) == 0 {
		return nil, true, nil
	}
	if !isBatch {
		body, err = json.Marshal(responses[0])
		return body, false, err
	}
	body, err = json.Marshal(responses)
	return body, false, err
}
