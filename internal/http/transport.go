package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/beaconhq/beacon-go/internal/debuglog"
	"github.com/beaconhq/beacon-go/internal/protocol"
)

const (
	defaultTimeout  = time.Second * 15
	DefaultEndpoint = "https://api.beacon.dev"
)

// maxDrainResponseBytes is the maximum number of bytes that the transport
// will read from response bodies.
//
// Collector responses are short. However, the net/http HTTP client requires
// response bodies to be fully drained (and closed) for TCP keep-alive to
// work, so a misbehaving server must not make us read forever.
const maxDrainResponseBytes = 16 << 10

// TransportOptions contains the configuration needed by the HTTP backend.
type TransportOptions struct {
	APIKey        string
	Endpoint      string
	UserAgent     string
	Compress      bool
	Timeout       time.Duration
	HTTPClient    *http.Client
	HTTPTransport http.RoundTripper
	HTTPProxy     string
	HTTPSProxy    string
	CaCerts       *x509.CertPool
	Logger        logrus.FieldLogger
}

func getProxyConfig(options TransportOptions) func(*http.Request) (*url.URL, error) {
	if options.HTTPSProxy != "" {
		return func(*http.Request) (*url.URL, error) {
			return url.Parse(options.HTTPSProxy)
		}
	}

	if options.HTTPProxy != "" {
		return func(*http.Request) (*url.URL, error) {
			return url.Parse(options.HTTPProxy)
		}
	}

	return http.ProxyFromEnvironment
}

func getTLSConfig(options TransportOptions) *tls.Config {
	if options.CaCerts != nil {
		return &tls.Config{
			RootCAs:    options.CaCerts,
			MinVersion: tls.VersionTLS12,
		}
	}

	return nil
}

// Transport posts payloads to the collector over net/http. It is safe for
// concurrent use; the worker calls it from its own goroutine.
type Transport struct {
	endpoint  string
	apiKey    string
	userAgent string
	compress  bool
	client    *http.Client
	logger    logrus.FieldLogger
}

// NewTransport returns a Transport configured with the given options.
func NewTransport(options TransportOptions) *Transport {
	t := &Transport{
		endpoint:  strings.TrimRight(options.Endpoint, "/"),
		apiKey:    options.APIKey,
		userAgent: options.UserAgent,
		compress:  options.Compress,
		logger:    options.Logger,
	}
	if t.endpoint == "" {
		t.endpoint = DefaultEndpoint
	}
	if t.logger == nil {
		t.logger = debuglog.GetLogger()
	}

	if options.HTTPClient != nil {
		t.client = options.HTTPClient
		return t
	}

	rt := options.HTTPTransport
	if rt == nil {
		rt = &http.Transport{
			Proxy:           getProxyConfig(options),
			TLSClientConfig: getTLSConfig(options),
		}
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	t.client = &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}
	return t
}

// Notify posts payload to the feature's endpoint. Transport failures are
// logged and converted into a response carrying protocol.CodeError.
func (t *Transport) Notify(ctx context.Context, feature protocol.Feature, payload interface{}) *protocol.Response {
	request, err := t.newRequest(ctx, feature, payload)
	if err != nil {
		t.logger.WithField("feature", feature).Errorf("There was an issue creating the request: %v", err)
		return protocol.ErrorResponse(err)
	}

	response, err := t.client.Do(request)
	if err != nil {
		t.logger.WithField("feature", feature).Errorf("There was an issue with sending a payload: %v", err)
		return protocol.ErrorResponse(errors.Wrap(err, "post payload"))
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxDrainResponseBytes))
	if err != nil {
		t.logger.WithField("feature", feature).Debugf("Error while reading response body: %v", err)
	}
	// Drain what is left so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxDrainResponseBytes))

	return protocol.NewResponse(response.StatusCode, body)
}

func (t *Transport) newRequest(ctx context.Context, feature protocol.Feature, payload interface{}) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := protocol.Encode(payload, t.compress)
	if err != nil {
		return nil, err
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+feature.Path(), bytes.NewReader(body.Data))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	r.Header.Set("Content-Type", protocol.ContentTypeJSON)
	r.Header.Set("Accept", protocol.ContentTypeJSON)
	r.Header.Set(protocol.HeaderAPIKey, t.apiKey)
	if t.userAgent != "" {
		r.Header.Set("User-Agent", t.userAgent)
	}
	if body.Gzipped {
		r.Header.Set(protocol.HeaderContentEncoding, "gzip")
	}
	return r, nil
}
