package beacon

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/beaconhq/beacon-go/internal/clientreport"
	"github.com/beaconhq/beacon-go/internal/debuglog"
	"github.com/beaconhq/beacon-go/internal/queue"
	"github.com/beaconhq/beacon-go/internal/throttle"
)

const (
	defaultWorkerQueueSize  = 100
	defaultThrottleInterval = 10 * time.Millisecond
	defaultThrottleFactor   = 1.25
	defaultSuspendCooldown  = time.Hour

	unexpectedErrorBackoff = time.Second
	killWait               = 100 * time.Millisecond
)

// WorkerState describes the lifecycle of a Worker goroutine.
type WorkerState int

const (
	StateStopped WorkerState = iota
	StateStarting
	StateRunning
	StateSuspended
	StateShuttingDown
)

func (s WorkerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// WorkerOptions configures a Worker. Zero values select the defaults.
type WorkerOptions struct {
	// QueueSize is the maximum number of items waiting for delivery.
	QueueSize int
	// ThrottleInterval is the pause after every delivery before any
	// throttle factor is applied.
	ThrottleInterval time.Duration
	// ThrottleFactor is pushed onto the throttle stack on 429 and 503.
	ThrottleFactor float64
	// SuspendCooldown is how long delivery stops after a 402 or 403.
	SuspendCooldown time.Duration
	Logger          logrus.FieldLogger
	// Clock drives throttle pauses and the suspension deadline.
	Clock    clock.Clock
	Reporter *clientreport.Aggregator
	// OnThrottle and OnUnthrottle run on the worker goroutine whenever a
	// factor is pushed or popped.
	OnThrottle   func(factor float64)
	OnUnthrottle func()
}

func (o *WorkerOptions) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultWorkerQueueSize
	}
	if o.ThrottleInterval <= 0 {
		o.ThrottleInterval = defaultThrottleInterval
	}
	if o.ThrottleFactor <= 1 {
		o.ThrottleFactor = defaultThrottleFactor
	}
	if o.SuspendCooldown <= 0 {
		o.SuspendCooldown = defaultSuspendCooldown
	}
	if o.Logger == nil {
		o.Logger = debuglog.GetLogger()
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
}

type envelopeKind int

const (
	kindItem envelopeKind = iota
	kindFlush
	kindShutdown
)

type envelope struct {
	kind    envelopeKind
	payload Payload
	flushed chan struct{}
}

// WorkerStats is a point-in-time view of a Worker.
type WorkerStats struct {
	Feature        Feature
	State          WorkerState
	QueueSize      int
	QueueCapacity  int
	Dropped        int64
	Delivered      int64
	Failed         int64
	Multiplier     float64
	SuspendedUntil time.Time
}

// Worker delivers the payloads of one feature from a bounded queue on a
// single background goroutine.
//
// The goroutine starts on the first Push and restarts on demand after it
// exits. Items are delivered in the order they were accepted, at most once.
type Worker struct {
	feature  Feature
	backend  Backend
	options  WorkerOptions
	logger   logrus.FieldLogger
	clock    clock.Clock
	reporter *clientreport.Aggregator
	queue    *queue.Bounded[*envelope]

	mu             sync.Mutex
	throttles      throttle.Stack
	cancel         context.CancelFunc
	done           chan struct{}
	ready          bool
	shutdown       bool
	suspendedUntil time.Time

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewWorker returns a stopped Worker delivering feature payloads to backend.
func NewWorker(feature Feature, backend Backend, options WorkerOptions) *Worker {
	options.setDefaults()
	if backend == nil {
		backend = noopBackend{}
	}

	w := &Worker{
		feature:  feature,
		backend:  backend,
		options:  options,
		logger:   options.Logger.WithField("feature", feature),
		clock:    options.Clock,
		reporter: options.Reporter,
		queue:    queue.NewBounded[*envelope](options.QueueSize),
	}
	w.queue.SetDroppedCallback(func(*envelope) {
		w.reporter.RecordOne(clientreport.ReasonQueueOverflow, w.feature)
	})
	return w
}

func (w *Worker) Feature() Feature {
	return w.feature
}

// Push enqueues item for delivery, starting the worker if needed. It
// returns false when the worker refuses work (suspended or shut down) or
// when the queue is full.
func (w *Worker) Push(item Payload) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.startLocked() {
		w.reporter.RecordOne(clientreport.ReasonSuspended, w.feature)
		return false
	}
	return w.queue.Offer(&envelope{kind: kindItem, payload: item})
}

// Start launches the worker goroutine unless it is already running. It
// returns false while the worker is shut down or suspended.
func (w *Worker) Start() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked()
}

func (w *Worker) startLocked() bool {
	if w.shutdown {
		return false
	}
	if !w.suspendedUntil.IsZero() {
		if w.clock.Now().Before(w.suspendedUntil) {
			return false
		}
		w.suspendedUntil = time.Time{}
	}
	if w.done != nil {
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.ready = false
	go w.run(ctx, done)
	return true
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	drained := false
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("Worker exited unexpectedly: %s", goerrors.Wrap(r, 2).ErrorStack())
		}
		w.exited(done, drained)
	}()

	w.mu.Lock()
	if w.done == done {
		w.ready = true
	}
	w.mu.Unlock()

	for {
		env, ok := w.queue.Pop(ctx)
		if !ok {
			return
		}
		switch env.kind {
		case kindShutdown:
			drained = true
			return
		case kindFlush:
			close(env.flushed)
		default:
			if ctx.Err() != nil {
				w.reporter.RecordOne(clientreport.ReasonKilled, w.feature)
				return
			}
			w.work(ctx, env.payload)
		}
	}
}

func (w *Worker) exited(done chan struct{}, drained bool) {
	var leftover []*envelope

	w.mu.Lock()
	if w.done == done {
		w.cancel()
		w.cancel = nil
		w.done = nil
		w.ready = false
		if drained {
			leftover = w.queue.Clear()
		}
	}
	w.mu.Unlock()

	w.release(leftover, clientreport.ReasonKilled)
	close(done)
}

func (w *Worker) work(ctx context.Context, item Payload) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			w.reporter.RecordOne(clientreport.ReasonInternalError, w.feature)
			w.logger.Errorf("Error in worker: %s", goerrors.Wrap(r, 2).ErrorStack())
			w.sleep(ctx, unexpectedErrorBackoff)
		}
	}()

	response := w.backend.Notify(ctx, w.feature, item)
	if ctx.Err() != nil {
		// Killed mid-delivery: the outcome belongs to an abandoned run.
		return
	}
	w.handleResponse(ctx, response)
	w.sleep(ctx, w.ThrottleInterval())
}

func (w *Worker) handleResponse(ctx context.Context, response *Response) {
	if response == nil {
		response = &Response{Code: CodeError, Message: "backend returned no response"}
	}

	switch code := response.Code; {
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		w.failed.Add(1)
		w.reporter.RecordOne(clientreport.ReasonSendError, w.feature)
		factor := w.options.ThrottleFactor
		w.mu.Lock()
		w.throttles.Push(factor)
		multiplier := w.throttles.Multiplier()
		w.mu.Unlock()
		w.logger.Debugf("Throttled (%d): multiplier=%g", code, multiplier)
		if w.options.OnThrottle != nil {
			w.options.OnThrottle(factor)
		}
	case code == http.StatusPaymentRequired || code == http.StatusForbidden:
		w.failed.Add(1)
		w.reporter.RecordOne(clientreport.ReasonSendError, w.feature)
		until, ok := w.suspend(ctx, w.options.SuspendCooldown)
		if !ok {
			return
		}
		w.logger.Warnf("Data delivery suspended until %s (%d): %s",
			until.Format(time.RFC3339), code, response.ErrorMessage())
	case code == http.StatusRequestEntityTooLarge:
		w.failed.Add(1)
		w.reporter.RecordOne(clientreport.ReasonSendError, w.feature)
		w.logger.Warnf("Payload too large (%d): %s", code, response.ErrorMessage())
	case response.Success():
		w.delivered.Add(1)
		w.mu.Lock()
		_, popped := w.throttles.Pop()
		multiplier := w.throttles.Multiplier()
		w.mu.Unlock()
		w.logger.Debugf("Success (%d): multiplier=%g", code, multiplier)
		if popped && w.options.OnUnthrottle != nil {
			w.options.OnUnthrottle()
		}
	case code == CodeError:
		w.failed.Add(1)
		w.reporter.RecordOne(clientreport.ReasonNetworkError, w.feature)
	case code == CodeStubbed:
		w.logger.Debugf("Payload not sent: no backend is configured")
	default:
		w.failed.Add(1)
		w.reporter.RecordOne(clientreport.ReasonSendError, w.feature)
		w.logger.Warnf("Unexpected response (%d): %s", code, response.ErrorMessage())
	}
}

// suspend stops delivery for cooldown and drops everything queued. It is
// called from the worker goroutine, so it must not wait for the exit. A run
// that was killed in the meantime leaves the worker untouched.
func (w *Worker) suspend(ctx context.Context, cooldown time.Duration) (time.Time, bool) {
	w.mu.Lock()
	if ctx.Err() != nil {
		w.mu.Unlock()
		return time.Time{}, false
	}
	w.suspendedUntil = w.clock.Now().Add(cooldown)
	until := w.suspendedUntil
	w.mu.Unlock()

	w.kill(clientreport.ReasonSuspended)
	return until, true
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-w.clock.After(d):
	case <-ctx.Done():
	}
}

// Flush blocks until every item queued before the call has been processed
// or timeout elapses. A non-positive timeout waits without bound, as in
// Shutdown.
func (w *Worker) Flush(timeout time.Duration) bool {
	if timeout <= 0 {
		return w.FlushWithContext(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.FlushWithContext(ctx)
}

// FlushWithContext blocks until every item queued before the call has been
// processed. It returns false if ctx ends first or the worker stops before
// reaching the flush point.
func (w *Worker) FlushWithContext(ctx context.Context) bool {
	w.mu.Lock()
	if w.done == nil {
		if w.queue.IsEmpty() {
			w.mu.Unlock()
			return true
		}
		if !w.startLocked() {
			w.mu.Unlock()
			return false
		}
	}
	done := w.done
	marker := make(chan struct{})
	w.queue.Force(&envelope{kind: kindFlush, flushed: marker})
	w.mu.Unlock()

	select {
	case <-marker:
		return true
	case <-done:
		select {
		case <-marker:
			return true
		default:
			return false
		}
	case <-ctx.Done():
		return false
	}
}

// Shutdown stops accepting items, delivers what is queued and waits for the
// goroutine to exit. A non-positive timeout waits without bound. On timeout
// the worker is killed and Shutdown returns false.
func (w *Worker) Shutdown(timeout time.Duration) bool {
	w.mu.Lock()
	if w.done == nil && !w.queue.IsEmpty() {
		w.startLocked()
	}
	w.shutdown = true
	done := w.done
	if done == nil {
		w.mu.Unlock()
		return true
	}
	w.queue.Force(&envelope{kind: kindShutdown})
	w.mu.Unlock()

	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		w.logger.Warnf("Shutdown timed out after %s, killing worker", timeout)
		w.Kill()
		return false
	}
}

// Kill drops everything queued, aborts the in-flight delivery and waits
// briefly for the goroutine to exit.
func (w *Worker) Kill() bool {
	done := w.kill(clientreport.ReasonKilled)
	if done == nil {
		return true
	}

	timer := time.NewTimer(killWait)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (w *Worker) kill(reason clientreport.DiscardReason) chan struct{} {
	w.mu.Lock()
	done := w.done
	if w.cancel != nil {
		w.cancel()
	}
	w.cancel = nil
	w.done = nil
	w.ready = false
	leftover := w.queue.Clear()
	w.mu.Unlock()

	w.release(leftover, reason)
	return done
}

func (w *Worker) release(entries []*envelope, reason clientreport.DiscardReason) {
	var dropped int64
	for _, env := range entries {
		switch env.kind {
		case kindFlush:
			close(env.flushed)
		case kindItem:
			dropped++
		}
	}
	w.reporter.Record(reason, w.feature, dropped)
}

// Reset kills the worker and forgets its shutdown flag, throttle factors
// and suspension. The next Push starts a fresh goroutine.
func (w *Worker) Reset() {
	w.Kill()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.shutdown = false
	w.suspendedUntil = time.Time{}
	w.throttles.Reset()
}

// ThrottleInterval returns the pause applied after each delivery.
func (w *Worker) ThrottleInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.throttles.Apply(w.options.ThrottleInterval)
}

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *Worker) stateLocked() WorkerState {
	switch {
	case w.done != nil && w.shutdown:
		return StateShuttingDown
	case !w.suspendedUntil.IsZero() && w.clock.Now().Before(w.suspendedUntil):
		return StateSuspended
	case w.done != nil && w.ready:
		return StateRunning
	case w.done != nil:
		return StateStarting
	default:
		return StateStopped
	}
}

func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return WorkerStats{
		Feature:        w.feature,
		State:          w.stateLocked(),
		QueueSize:      w.queue.Size(),
		QueueCapacity:  w.queue.Capacity(),
		Dropped:        w.queue.DroppedCount(),
		Delivered:      w.delivered.Load(),
		Failed:         w.failed.Load(),
		Multiplier:     w.throttles.Multiplier(),
		SuspendedUntil: w.suspendedUntil,
	}
}
