// Package beacongin provides gin middleware that reports panics and request
// traces to a beacon.Dispatcher.
package beacongin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	beacon "github.com/beaconhq/beacon-go"
)

const valuesKey = "beacon"

type handler struct {
	dispatcher      *beacon.Dispatcher
	repanic         bool
	waitForDelivery bool
	traceRequests   bool
	timeout         time.Duration
}

type Options struct {
	// Dispatcher receives notices and traces. Required.
	Dispatcher *beacon.Dispatcher
	// Repanic configures whether to panic again after recovery. Gin's own
	// Recovery middleware can then write the error response.
	Repanic bool
	// WaitForDelivery blocks the response until the panic notice has been
	// delivered.
	WaitForDelivery bool
	// Timeout for the delivery when WaitForDelivery is set.
	Timeout time.Duration
	// TraceRequests records a trace for every request, named after the
	// matched route.
	TraceRequests bool
}

// New returns a gin middleware. It panics when no dispatcher is given.
func New(options Options) gin.HandlerFunc {
	if options.Dispatcher == nil {
		panic("beacongin: a Dispatcher is required")
	}

	h := handler{
		dispatcher:      options.Dispatcher,
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		traceRequests:   options.TraceRequests,
		timeout:         time.Second * 2,
	}

	if options.Timeout != 0 {
		h.timeout = options.Timeout
	}

	return h.handle
}

func (h *handler) handle(c *gin.Context) {
	start := time.Now()
	c.Set(valuesKey, h.dispatcher)

	defer func() {
		err := recover()
		if err != nil {
			_, ok := h.dispatcher.Recover(c.Request.Context(), err, beacon.WithRequest(c.Request))
			if ok && h.waitForDelivery {
				h.dispatcher.Flush(h.timeout, beacon.FeatureNotices)
			}
		}
		if h.traceRequests {
			h.trace(c, start, err != nil)
		}
		if err != nil && h.repanic {
			panic(err)
		}
	}()

	c.Next()
}

func (h *handler) trace(c *gin.Context, start time.Time, panicked bool) {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	status := c.Writer.Status()
	if panicked && !c.Writer.Written() {
		status = http.StatusInternalServerError
	}

	h.dispatcher.Trace(&beacon.Trace{
		Name:      c.Request.Method + " " + route,
		StartedAt: start,
		Duration:  time.Since(start),
		Tags:      beacon.TagsFromContext(c.Request.Context()),
		Data: map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		},
	})
}

// GetDispatcherFromContext returns the dispatcher attached by the middleware.
func GetDispatcherFromContext(ctx *gin.Context) *beacon.Dispatcher {
	if d, ok := ctx.Get(valuesKey); ok {
		if d, ok := d.(*beacon.Dispatcher); ok {
			return d
		}
	}
	return nil
}
