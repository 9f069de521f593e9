// Package beacon reports errors, metrics, events, traces and deploys to the
// Beacon collector from background workers that never block the caller.
package beacon

import (
	"context"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/beaconhq/beacon-go/internal/clientreport"
	"github.com/beaconhq/beacon-go/internal/debuglog"
	httpbackend "github.com/beaconhq/beacon-go/internal/http"
	"github.com/beaconhq/beacon-go/internal/metrics"
)

// Version is the version of the client.
const Version = "0.1.0"

// UserAgent is sent with every request of the HTTP backend.
const UserAgent = "beacon-go/" + Version

// Dispatcher owns one Worker per feature and the batching stages in front of
// them. All of its methods are safe for concurrent use and none of the
// reporting methods block on the network.
type Dispatcher struct {
	options  ClientOptions
	logger   logrus.FieldLogger
	backend  Backend
	reporter *clientreport.Aggregator
	server   ServerInfo

	mu      sync.Mutex
	workers map[Feature]*Worker
	closed  atomic.Bool

	metrics *batchProcessor[metrics.Sample]
	events  *batchProcessor[*Event]
	traces  *tracePump
}

// NewDispatcher validates options, applies defaults and environment
// fallbacks, and starts the batching stages. Workers start on first use.
func NewDispatcher(options ClientOptions) (*Dispatcher, error) {
	options.setDefaults()

	if options.Endpoint != "" {
		u, err := url.Parse(options.Endpoint)
		if err != nil {
			return nil, errors.Wrap(err, "invalid endpoint")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, errors.Errorf("invalid endpoint %q: scheme must be http or https", options.Endpoint)
		}
	}

	if options.Logger == nil {
		if options.Debug {
			debuglog.SetOutput(os.Stderr)
			debuglog.SetLevel(logrus.DebugLevel)
		}
		options.Logger = debuglog.GetLogger()
	}

	d := &Dispatcher{
		options:  options,
		logger:   options.Logger,
		reporter: clientreport.NewAggregator(),
		server:   newServerInfo(options.Hostname, options.Environment),
		workers:  make(map[Feature]*Worker),
	}
	d.backend = d.newBackend()

	d.metrics = newBatchProcessor("metrics", options.MetricsBatchMax, options.MetricsBatchInterval, options.Clock, d.sendMetrics)
	d.metrics.onDropped = func(metrics.Sample) {
		d.reporter.RecordOne(clientreport.ReasonBufferOverflow, FeatureMetrics)
	}
	d.events = newBatchProcessor("events", options.EventsBatchMax, options.EventsBatchInterval, options.Clock, d.sendEvents)
	d.events.onDropped = func(*Event) {
		d.reporter.RecordOne(clientreport.ReasonBufferOverflow, FeatureEvents)
	}
	d.traces = newTracePump(options.TracesInterval, options.TracesMax, options.Clock, func(t *Trace) bool {
		return d.Worker(FeatureTraces).Push(t)
	})
	d.traces.onDrop = func(*Trace) {
		d.reporter.RecordOne(clientreport.ReasonBufferOverflow, FeatureTraces)
	}

	d.startStages()
	return d, nil
}

func (d *Dispatcher) newBackend() Backend {
	if d.options.Backend != nil {
		return d.options.Backend
	}
	if d.options.APIKey == "" {
		d.logger.Debugf("No API key configured, payloads will not be sent")
		return noopBackend{}
	}
	return httpbackend.NewTransport(httpbackend.TransportOptions{
		APIKey:        d.options.APIKey,
		Endpoint:      d.options.Endpoint,
		UserAgent:     UserAgent,
		Compress:      d.options.Compress,
		HTTPClient:    d.options.HTTPClient,
		HTTPTransport: d.options.HTTPTransport,
		HTTPProxy:     d.options.HTTPProxy,
		HTTPSProxy:    d.options.HTTPSProxy,
		CaCerts:       d.options.CaCerts,
		Logger:        d.logger,
	})
}

func (d *Dispatcher) startStages() {
	d.metrics.Start()
	d.events.Start()
	d.traces.Start()
}

// Options returns the resolved configuration.
func (d *Dispatcher) Options() ClientOptions {
	return d.options
}

// Worker returns the worker of feature, creating it if needed.
func (d *Dispatcher) Worker(feature Feature) *Worker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if w, ok := d.workers[feature]; ok {
		return w
	}

	options := WorkerOptions{
		QueueSize:        d.options.queueSize(feature),
		ThrottleInterval: d.options.ThrottleInterval,
		ThrottleFactor:   d.options.ThrottleFactor,
		SuspendCooldown:  d.options.SuspendCooldown,
		Logger:           d.logger,
		Clock:            d.options.Clock,
		Reporter:         d.reporter,
	}
	if feature == FeatureTraces {
		options.OnThrottle = d.traces.Throttle
		options.OnUnthrottle = d.traces.Unthrottle
	}

	w := NewWorker(feature, d.backend, options)
	d.workers[feature] = w
	return w
}

func (d *Dispatcher) registered(features []Feature) []*Worker {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Worker
	if len(features) == 0 {
		for _, w := range d.workers {
			out = append(out, w)
		}
	} else {
		for _, f := range features {
			if w, ok := d.workers[f]; ok {
				out = append(out, w)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Feature() < out[j].Feature()
	})
	return out
}

// Push hands item to the worker of feature. It returns false when the item
// was not accepted.
func (d *Dispatcher) Push(feature Feature, item Payload) bool {
	if d.closed.Load() {
		d.reporter.RecordOne(clientreport.ReasonSuspended, feature)
		return false
	}
	return d.Worker(feature).Push(item)
}

// Notify reports err as a notice. It returns the notice ID and whether it
// was queued.
func (d *Dispatcher) Notify(ctx context.Context, err error, opts ...NoticeOption) (string, bool) {
	if err == nil {
		return "", false
	}
	return d.notify(ctx, newNotice(err, 1, d.server), opts)
}

// Recover reports the value of a recovered panic as a notice.
//
//	defer func() {
//		if r := recover(); r != nil {
//			dispatcher.Recover(ctx, r)
//		}
//	}()
func (d *Dispatcher) Recover(ctx context.Context, recovered interface{}, opts ...NoticeOption) (string, bool) {
	if recovered == nil {
		return "", false
	}
	return d.notify(ctx, newNotice(recovered, 1, d.server), opts)
}

func (d *Dispatcher) notify(ctx context.Context, notice *Notice, opts []NoticeOption) (string, bool) {
	if tags := TagsFromContext(ctx); len(tags) > 0 {
		WithTags(tags)(notice)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(notice)
		}
	}
	return notice.ID, d.Push(FeatureNotices, notice)
}

// Event records a custom event. Events are batched before delivery.
func (d *Dispatcher) Event(ctx context.Context, eventType string, data map[string]interface{}) bool {
	if d.closed.Load() {
		return false
	}
	return d.events.Send(&Event{
		Type:      eventType,
		Timestamp: d.options.Clock.Now().UTC(),
		Data:      data,
		Tags:      TagsFromContext(ctx),
	})
}

// Timing records a duration-like value, in milliseconds by convention.
func (d *Dispatcher) Timing(name string, value float64) bool {
	return d.sample(metrics.KindTiming, name, value)
}

// Increment adds by to a counter.
func (d *Dispatcher) Increment(name string, by float64) bool {
	return d.sample(metrics.KindCounter, name, by)
}

func (d *Dispatcher) sample(kind metrics.Kind, name string, value float64) bool {
	if d.closed.Load() {
		return false
	}
	return d.metrics.Send(metrics.Sample{Kind: kind, Name: metrics.SanitizeName(name), Value: value})
}

// Trace buffers trace for metered delivery.
func (d *Dispatcher) Trace(trace *Trace) bool {
	if trace == nil || d.closed.Load() {
		return false
	}
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	return d.traces.Add(trace)
}

// Deploy records a release.
func (d *Dispatcher) Deploy(ctx context.Context, deploy *Deploy) bool {
	if deploy == nil {
		return false
	}
	if deploy.ID == "" {
		deploy.ID = uuid.NewString()
	}
	if deploy.Environment == "" {
		deploy.Environment = d.options.Environment
	}
	return d.Push(FeatureDeploys, deploy)
}

func (d *Dispatcher) sendMetrics(samples []metrics.Sample) {
	now := d.options.Clock.Now().UTC()
	for _, chunk := range metrics.Chunk(metrics.Aggregate(samples), d.options.MetricsChunkSize) {
		d.Worker(FeatureMetrics).Push(&MetricsPayload{
			ID:          uuid.NewString(),
			Environment: d.options.Environment,
			Hostname:    d.options.Hostname,
			Timestamp:   now,
			Metrics:     chunk,
		})
	}
}

func (d *Dispatcher) sendEvents(events []*Event) {
	for _, chunk := range metrics.Chunk(events, d.options.EventsChunkSize) {
		d.Worker(FeatureEvents).Push(&EventBatch{
			ID:     uuid.NewString(),
			Events: chunk,
		})
	}
}

// Flush waits until everything reported before the call has been handed to
// the backend, or timeout elapses. Without features every registered
// feature is flushed. A non-positive timeout waits without bound, as in
// Shutdown.
func (d *Dispatcher) Flush(timeout time.Duration, features ...Feature) bool {
	if timeout <= 0 {
		return d.FlushWithContext(context.Background(), features...)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.FlushWithContext(ctx, features...)
}

// FlushWithContext is like Flush but bounded by ctx.
func (d *Dispatcher) FlushWithContext(ctx context.Context, features ...Feature) bool {
	ok := true
	if includes(features, FeatureMetrics) {
		ok = d.metrics.Flush(ctx) && ok
	}
	if includes(features, FeatureEvents) {
		ok = d.events.Flush(ctx) && ok
	}
	if includes(features, FeatureTraces) {
		d.traces.Drain()
	}

	for _, w := range d.registered(features) {
		ok = w.FlushWithContext(ctx) && ok
	}
	return ok
}

func includes(features []Feature, feature Feature) bool {
	if len(features) == 0 {
		return true
	}
	for _, f := range features {
		if f == feature {
			return true
		}
	}
	return false
}

// Shutdown stops accepting new items, delivers what is pending and stops
// every worker. Workers still running when timeout elapses are killed and
// Shutdown returns false. A non-positive timeout waits without bound.
func (d *Dispatcher) Shutdown(timeout time.Duration) bool {
	d.closed.Store(true)
	d.metrics.Shutdown()
	d.events.Shutdown()
	d.traces.Stop()
	d.traces.Drain()

	workers := d.registered(nil)
	results := make([]bool, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			results[i] = w.Shutdown(timeout)
		}(i, w)
	}
	wg.Wait()

	ok := true
	for i, r := range results {
		if !r {
			d.logger.WithField("feature", workers[i].Feature()).Warnf("Worker did not drain before the shutdown timeout")
			ok = false
		}
	}
	return ok
}

// Close is the process exit hook: a graceful shutdown bounded by
// ClientOptions.ShutdownTimeout.
func (d *Dispatcher) Close() {
	d.Shutdown(d.options.ShutdownTimeout)
}

// Kill drops everything queued and stops every worker immediately.
func (d *Dispatcher) Kill() bool {
	d.reporter.Record(clientreport.ReasonKilled, FeatureTraces, int64(d.traces.Discard()))

	ok := true
	for _, w := range d.registered(nil) {
		ok = w.Kill() && ok
	}
	return ok
}

// Reset returns the dispatcher to its initial state after Shutdown or in a
// forked process: workers are reset and the batching stages restarted.
func (d *Dispatcher) Reset() {
	d.traces.Stop()
	for _, w := range d.registered(nil) {
		w.Reset()
	}
	d.traces.ResetThrottles()
	d.closed.Store(false)
	d.startStages()
}

// Stats returns a snapshot of every registered worker, ordered by feature.
func (d *Dispatcher) Stats() []WorkerStats {
	workers := d.registered(nil)
	stats := make([]WorkerStats, 0, len(workers))
	for _, w := range workers {
		stats = append(stats, w.Stats())
	}
	return stats
}

// DiscardReport returns and resets the counts of items dropped since the
// previous call, or nil when nothing was dropped.
func (d *Dispatcher) DiscardReport() *clientreport.ClientReport {
	return d.reporter.TakeReport()
}
