// Package beaconfasthttp provides fasthttp middleware that reports panics
// and request traces to a beacon.Dispatcher, and a Backend that delivers
// payloads with a fasthttp client.
package beaconfasthttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	beacon "github.com/beaconhq/beacon-go"
)

const valuesKey = "beacon"

type Handler struct {
	dispatcher      *beacon.Dispatcher
	repanic         bool
	waitForDelivery bool
	traceRequests   bool
	timeout         time.Duration
}

type Options struct {
	// Dispatcher receives notices and traces. Required.
	Dispatcher *beacon.Dispatcher
	// Repanic configures whether to panic again after recovery, in most
	// cases it should be set to false, as fasthttp doesn't include its own
	// Recovery handler.
	Repanic bool
	// WaitForDelivery blocks the response until the panic notice has been
	// delivered. Because fasthttp doesn't include its own Recovery handler,
	// a repanic restarts the application and the notice would be lost
	// otherwise.
	WaitForDelivery bool
	// Timeout for the delivery when WaitForDelivery is set.
	Timeout time.Duration
	// TraceRequests records a trace for every request.
	TraceRequests bool
}

// New returns a struct that provides a Handle method wrapping
// fasthttp.RequestHandler. It panics when no dispatcher is given.
func New(options Options) *Handler {
	if options.Dispatcher == nil {
		panic("beaconfasthttp: a Dispatcher is required")
	}

	handler := Handler{
		dispatcher:      options.Dispatcher,
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		traceRequests:   options.TraceRequests,
		timeout:         time.Second * 2,
	}

	if options.Timeout != 0 {
		handler.timeout = options.Timeout
	}

	return &handler
}

// Handle wraps fasthttp.RequestHandler and recovers from caught panics.
func (h *Handler) Handle(handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		ctx.SetUserValue(valuesKey, h.dispatcher)

		defer func() {
			err := recover()
			if err != nil {
				_, ok := h.dispatcher.Recover(context.Background(), err, beacon.WithRequestInfo(extractRequestInfo(ctx)))
				if ok && h.waitForDelivery {
					h.dispatcher.Flush(h.timeout, beacon.FeatureNotices)
				}
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			}
			if h.traceRequests {
				h.trace(ctx, start)
			}
			if err != nil && h.repanic {
				panic(err)
			}
		}()

		handler(ctx)
	}
}

func (h *Handler) trace(ctx *fasthttp.RequestCtx, start time.Time) {
	method := string(ctx.Method())
	path := string(ctx.Path())

	h.dispatcher.Trace(&beacon.Trace{
		Name:      method + " " + path,
		StartedAt: start,
		Duration:  time.Since(start),
		Data: map[string]interface{}{
			"method": method,
			"path":   path,
			"status": ctx.Response.StatusCode(),
		},
	})
}

// GetDispatcherFromContext retrieves the dispatcher attached to ctx.
func GetDispatcherFromContext(ctx *fasthttp.RequestCtx) *beacon.Dispatcher {
	if d, ok := ctx.UserValue(valuesKey).(*beacon.Dispatcher); ok {
		return d
	}
	return nil
}

func extractRequestInfo(ctx *fasthttp.RequestCtx) *beacon.RequestInfo {
	uri := ctx.URI()
	info := &beacon.RequestInfo{
		Method:    string(ctx.Method()),
		URL:       fmt.Sprintf("%s://%s%s", uri.Scheme(), uri.Host(), uri.Path()),
		RemoteIP:  ctx.RemoteIP().String(),
		UserAgent: string(ctx.UserAgent()),
		Headers:   make(map[string]string),
	}

	ctx.Request.Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if k == http.CanonicalHeaderKey("Cookie") || k == http.CanonicalHeaderKey("Authorization") {
			return
		}
		info.Headers[k] = string(value)
	})

	return info
}
