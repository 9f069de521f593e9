package beacon

import (
	"context"
	"net/http"
	"sync"

	"github.com/beaconhq/beacon-go/internal/protocol"
)

// MockCall is a payload received by a MockBackend.
type MockCall struct {
	Feature Feature
	Payload interface{}
}

// MockBackend implements [Backend] for use in tests. It records every call
// and answers 201 unless Respond is set.
type MockBackend struct {
	// Respond computes the response of each call.
	Respond func(ctx context.Context, feature Feature, payload interface{}) *Response

	mu    sync.Mutex
	calls []MockCall
}

func (b *MockBackend) Notify(ctx context.Context, feature Feature, payload interface{}) *Response {
	b.mu.Lock()
	b.calls = append(b.calls, MockCall{Feature: feature, Payload: payload})
	respond := b.Respond
	b.mu.Unlock()

	if respond != nil {
		return respond(ctx, feature, payload)
	}
	return protocol.NewResponse(http.StatusCreated, nil)
}

// Calls returns every call received so far, in order.
func (b *MockBackend) Calls() []MockCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MockCall, len(b.calls))
	copy(out, b.calls)
	return out
}

// Payloads returns the payloads received for feature, in order.
func (b *MockBackend) Payloads(feature Feature) []interface{} {
	var out []interface{}
	for _, c := range b.Calls() {
		if c.Feature == feature {
			out = append(out, c.Payload)
		}
	}
	return out
}

// StatusResponse returns a response with the given status code.
func StatusResponse(code int) *Response {
	return protocol.NewResponse(code, nil)
}
