package beaconfasthttp

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	beacon "github.com/beaconhq/beacon-go"
	"github.com/beaconhq/beacon-go/internal/debuglog"
	httpbackend "github.com/beaconhq/beacon-go/internal/http"
	"github.com/beaconhq/beacon-go/internal/protocol"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 16 << 10
)

// BackendOptions configures a Backend.
type BackendOptions struct {
	APIKey    string
	Endpoint  string
	UserAgent string
	Compress  bool
	Timeout   time.Duration
	// Client is used instead of a default fasthttp.Client.
	Client *fasthttp.Client
	Logger logrus.FieldLogger
}

// Backend delivers payloads with a fasthttp client. Set it as
// beacon.ClientOptions.Backend.
type Backend struct {
	endpoint  string
	apiKey    string
	userAgent string
	compress  bool
	timeout   time.Duration
	client    *fasthttp.Client
	logger    logrus.FieldLogger
}

var _ beacon.Backend = (*Backend)(nil)

func NewBackend(options BackendOptions) *Backend {
	b := &Backend{
		endpoint:  strings.TrimRight(options.Endpoint, "/"),
		apiKey:    options.APIKey,
		userAgent: options.UserAgent,
		compress:  options.Compress,
		timeout:   options.Timeout,
		client:    options.Client,
		logger:    options.Logger,
	}
	if b.endpoint == "" {
		b.endpoint = httpbackend.DefaultEndpoint
	}
	if b.userAgent == "" {
		b.userAgent = beacon.UserAgent
	}
	if b.timeout <= 0 {
		b.timeout = defaultTimeout
	}
	if b.client == nil {
		b.client = &fasthttp.Client{
			Name:                beacon.UserAgent,
			MaxResponseBodySize: maxResponseBody,
		}
	}
	if b.logger == nil {
		b.logger = debuglog.GetLogger()
	}
	return b
}

// Notify posts payload to the feature's endpoint. fasthttp has no context
// support, so ctx only bounds the request deadline.
func (b *Backend) Notify(ctx context.Context, feature beacon.Feature, payload interface{}) *beacon.Response {
	if err := ctx.Err(); err != nil {
		return protocol.ErrorResponse(err)
	}

	body, err := protocol.Encode(payload, b.compress)
	if err != nil {
		b.logger.WithField("feature", feature).Errorf("There was an issue creating the request: %v", err)
		return protocol.ErrorResponse(err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.endpoint + feature.Path())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(protocol.ContentTypeJSON)
	req.Header.Set("Accept", protocol.ContentTypeJSON)
	req.Header.Set(protocol.HeaderAPIKey, b.apiKey)
	req.Header.SetUserAgent(b.userAgent)
	if body.Gzipped {
		req.Header.Set(protocol.HeaderContentEncoding, "gzip")
	}
	req.SetBodyRaw(body.Data)

	deadline := time.Now().Add(b.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := b.client.DoDeadline(req, resp, deadline); err != nil {
		b.logger.WithField("feature", feature).Errorf("There was an issue with sending a payload: %v", err)
		return protocol.ErrorResponse(errors.Wrap(err, "post payload"))
	}

	respBody := resp.Body()
	if len(respBody) > maxResponseBody {
		respBody = respBody[:maxResponseBody]
	}
	// The response is released on return, so the body must be copied.
	return protocol.NewResponse(resp.StatusCode(), append([]byte(nil), respBody...))
}
