// Package beaconhttp provides net/http middleware that reports panics and
// request traces to a beacon.Dispatcher.
package beaconhttp

import (
	"context"
	"net/http"
	"time"

	beacon "github.com/beaconhq/beacon-go"
	"github.com/beaconhq/beacon-go/internal/httputils"
	"github.com/beaconhq/beacon-go/internal/traceutils"
)

type Handler struct {
	dispatcher      *beacon.Dispatcher
	repanic         bool
	waitForDelivery bool
	traceRequests   bool
	timeout         time.Duration
	tags            map[string]string
}

type Options struct {
	// Dispatcher receives notices and traces. Required.
	Dispatcher *beacon.Dispatcher
	// Repanic configures whether to panic again after recovery. Set it to
	// true when another recovery middleware runs after this one.
	Repanic bool
	// WaitForDelivery blocks the response until the panic notice has been
	// delivered.
	WaitForDelivery bool
	// Timeout for the delivery when WaitForDelivery is set.
	Timeout time.Duration
	// TraceRequests records a trace for every request.
	TraceRequests bool
	// Tags are attached to the request context.
	Tags map[string]string
}

// New returns a Handler. It panics when no dispatcher is given.
func New(options Options) *Handler {
	if options.Dispatcher == nil {
		panic("beaconhttp: a Dispatcher is required")
	}

	handler := Handler{
		dispatcher:      options.Dispatcher,
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		traceRequests:   options.TraceRequests,
		timeout:         time.Second * 2,
		tags:            options.Tags,
	}

	if options.Timeout != 0 {
		handler.timeout = options.Timeout
	}

	return &handler
}

// Handle wraps handler.
func (h *Handler) Handle(handler http.Handler) http.Handler {
	return h.HandleFunc(handler.ServeHTTP)
}

// HandleFunc wraps handler.
func (h *Handler) HandleFunc(handler http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		if len(h.tags) > 0 {
			ctx = beacon.ContextWithTags(ctx, h.tags)
		}
		r = r.WithContext(ctx)
		sw := httputils.NewStatusWriter(rw)

		defer func() {
			err := recover()
			if err != nil {
				h.report(ctx, r, err)
			}
			if h.traceRequests {
				h.trace(r, sw, start, err != nil)
			}
			if err != nil && h.repanic {
				panic(err)
			}
		}()

		handler(sw, r)
	}
}

func (h *Handler) report(ctx context.Context, r *http.Request, err interface{}) {
	_, ok := h.dispatcher.Recover(ctx, err, beacon.WithRequest(r))
	if ok && h.waitForDelivery {
		h.dispatcher.Flush(h.timeout, beacon.FeatureNotices)
	}
}

func (h *Handler) trace(r *http.Request, sw *httputils.StatusWriter, start time.Time, panicked bool) {
	status := sw.Status()
	switch {
	case status != 0:
	case panicked:
		status = http.StatusInternalServerError
	default:
		status = http.StatusOK
	}
	h.dispatcher.Trace(&beacon.Trace{
		Name:      traceutils.TraceName(r),
		StartedAt: start,
		Duration:  time.Since(start),
		Tags:      beacon.TagsFromContext(r.Context()),
		Data: map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
		},
	})
}
