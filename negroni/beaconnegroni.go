// Package beaconnegroni provides negroni middleware that reports panics and
// request traces to a beacon.Dispatcher.
package beaconnegroni

import (
	"net/http"
	"time"

	"github.com/urfave/negroni/v3"

	beacon "github.com/beaconhq/beacon-go"
	"github.com/beaconhq/beacon-go/internal/traceutils"
)

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
	// Repanic configures whether to panic again after recovery. Set it to
	// true when negroni.Recovery runs before this middleware.
	Repanic bool
	// WaitForDelivery blocks the response until the panic notice has been
	// delivered.
	WaitForDelivery bool
	// Timeout for the delivery when WaitForDelivery is set.
	Timeout time.Duration
	// TraceRequests records a trace for every request.
	TraceRequests bool
}

// New returns a Handler. It panics when no dispatcher is given.
func New(options Options) *Handler {
	if options.Dispatcher == nil {
		panic("beaconnegroni: a Dispatcher is required")
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

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	nrw, ok := rw.(negroni.ResponseWriter)
	if !ok {
		nrw = negroni.NewResponseWriter(rw)
	}

	defer func() {
		err := recover()
		if err != nil {
			h.report(r, err)
		}
		if h.traceRequests {
			h.trace(r, nrw, start, err != nil)
		}
		if err != nil && h.repanic {
			panic(err)
		}
	}()

	next(nrw, r)
}

// PanicHandlerFunc reports panics recovered by negroni.Recovery. Assign it
// to Recovery.PanicHandlerFunc when the recovery middleware runs first.
func (h *Handler) PanicHandlerFunc(info *negroni.PanicInformation) {
	h.report(info.Request, info.RecoveredPanic)
}

func (h *Handler) report(r *http.Request, err interface{}) {
	_, ok := h.dispatcher.Recover(r.Context(), err, beacon.WithRequest(r))
	if ok && h.waitForDelivery {
		h.dispatcher.Flush(h.timeout, beacon.FeatureNotices)
	}
}

func (h *Handler) trace(r *http.Request, rw negroni.ResponseWriter, start time.Time, panicked bool) {
	status := rw.Status()
	if panicked && !rw.Written() {
		status = http.StatusInternalServerError
	}
	if status == 0 {
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
