// Package beaconecho provides echo middleware that reports panics, handler
// errors and request traces to a beacon.Dispatcher.
package beaconecho

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	beacon "github.com/beaconhq/beacon-go"
)

const (
	// valuesKey is used as a key to store the dispatcher on the echo.Context.
	valuesKey = "beacon"

	// errorKey is used as a key to store the handler error on the echo.Context.
	errorKey = "error"
)

type handler struct {
	dispatcher      *beacon.Dispatcher
	repanic         bool
	waitForDelivery bool
	reportErrors    bool
	traceRequests   bool
	timeout         time.Duration
}

type Options struct {
	// Dispatcher receives notices and traces. Required.
	Dispatcher *beacon.Dispatcher
	// Repanic configures whether to panic again after recovery, in most
	// cases it should be set to true, as Echo includes its own Recover
	// middleware that handles HTTP responses.
	Repanic bool
	// WaitForDelivery blocks the response until the panic notice has been
	// delivered.
	WaitForDelivery bool
	// Timeout for the delivery when WaitForDelivery is set.
	Timeout time.Duration
	// ReportErrors notifies errors returned by handlers, except HTTP errors
	// below 500.
	ReportErrors bool
	// TraceRequests records a trace for every request.
	TraceRequests bool
}

// New returns a function that satisfies echo.MiddlewareFunc. It panics when
// no dispatcher is given.
func New(options Options) echo.MiddlewareFunc {
	if options.Dispatcher == nil {
		panic("beaconecho: a Dispatcher is required")
	}
	if options.Timeout == 0 {
		options.Timeout = 2 * time.Second
	}

	return (&handler{
		dispatcher:      options.Dispatcher,
		repanic:         options.Repanic,
		timeout:         options.Timeout,
		waitForDelivery: options.WaitForDelivery,
		reportErrors:    options.ReportErrors,
		traceRequests:   options.TraceRequests,
	}).handle
}

func (h *handler) handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		r := ctx.Request()
		ctx.Set(valuesKey, h.dispatcher)

		defer func() {
			recovered := recover()
			if recovered != nil {
				_, ok := h.dispatcher.Recover(r.Context(), recovered, beacon.WithRequest(r))
				if ok && h.waitForDelivery {
					h.dispatcher.Flush(h.timeout, beacon.FeatureNotices)
				}
			}
			if h.traceRequests {
				h.trace(ctx, start, recovered != nil)
			}
			if recovered != nil && h.repanic {
				panic(recovered)
			}
		}()

		err := next(ctx)
		if err != nil {
			// Store the error so it can be used in the deferred function
			ctx.Set(errorKey, err)
			if h.reportErrors && reportable(err) {
				h.dispatcher.Notify(r.Context(), err, beacon.WithRequest(r))
			}
		}

		return err
	}
}

func reportable(err error) bool {
	if httpError, ok := err.(*echo.HTTPError); ok {
		return httpError.Code >= http.StatusInternalServerError
	}
	return true
}

func (h *handler) trace(ctx echo.Context, start time.Time, panicked bool) {
	r := ctx.Request()

	name := r.URL.Path
	if path := ctx.Path(); path != "" {
		name = path
	}

	status := ctx.Response().Status
	if err, ok := ctx.Get(errorKey).(error); ok {
		if httpError, ok := err.(*echo.HTTPError); ok {
			status = httpError.Code
		} else if !ctx.Response().Committed {
			status = http.StatusInternalServerError
		}
	}
	if panicked && !ctx.Response().Committed {
		status = http.StatusInternalServerError
	}

	h.dispatcher.Trace(&beacon.Trace{
		Name:      r.Method + " " + name,
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

// GetDispatcherFromContext retrieves the dispatcher attached to ctx.
func GetDispatcherFromContext(ctx echo.Context) *beacon.Dispatcher {
	if d, ok := ctx.Get(valuesKey).(*beacon.Dispatcher); ok {
		return d
	}
	return nil
}
