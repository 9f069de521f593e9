package beacon

import (
	"context"

	"github.com/beaconhq/beacon-go/internal/protocol"
)

// Feature names a logical payload stream delivered by its own worker.
type Feature = protocol.Feature

const (
	FeatureNotices = protocol.FeatureNotices
	FeatureEvents  = protocol.FeatureEvents
	FeatureMetrics = protocol.FeatureMetrics
	FeatureTraces  = protocol.FeatureTraces
	FeatureDeploys = protocol.FeatureDeploys
)

// Response is the normalized outcome of a Backend call.
type Response = protocol.Response

const (
	// CodeError is the Response code for transport failures.
	CodeError = protocol.CodeError
	// CodeStubbed is the Response code of backends that do not deliver.
	CodeStubbed = protocol.CodeStubbed
)

// Backend performs the network call for a feature and payload. It must
// never panic on transport failures; those are reported as a Response with
// CodeError. Workers call Notify from their own goroutine and cancel ctx
// when they are killed.
type Backend interface {
	Notify(ctx context.Context, feature Feature, payload interface{}) *Response
}

// Payload is a unit of work handed to a worker.
type Payload interface {
	PayloadID() string
}

// noopBackend is used when no API key is configured.
type noopBackend struct{}

func (noopBackend) Notify(context.Context, Feature, interface{}) *Response {
	return protocol.StubbedResponse()
}
