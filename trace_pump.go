package beacon

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/beaconhq/beacon-go/internal/queue"
)

const (
	defaultTraceInterval = 10 * time.Millisecond
	defaultTraceMax      = 100
)

// tracePump releases buffered traces to a worker no faster than the
// metered queue allows. The worker's throttle hooks stretch the window.
type tracePump struct {
	queue  *queue.Metered[*Trace]
	push   func(*Trace) bool
	clock  clock.Clock
	wake   chan struct{}
	onDrop func(*Trace)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newTracePump(interval time.Duration, max int, clk clock.Clock, push func(*Trace) bool) *tracePump {
	if interval <= 0 {
		interval = defaultTraceInterval
	}
	if max <= 0 {
		max = defaultTraceMax
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &tracePump{
		queue: queue.NewMetered[*Trace](interval, max, clk),
		push:  push,
		clock: clk,
		wake:  make(chan struct{}, 1),
	}
}

// Add buffers trace. It returns false when the pump is stopped or the
// buffer is full.
func (p *tracePump) Add(trace *Trace) bool {
	p.mu.Lock()
	if p.done == nil {
		p.mu.Unlock()
		return false
	}
	pushed := p.queue.Push(trace)
	p.mu.Unlock()

	if !pushed {
		if p.onDrop != nil {
			p.onDrop(trace)
		}
		return false
	}
	p.signal()
	return true
}

func (p *tracePump) Throttle(factor float64) {
	p.queue.Throttle(factor)
	p.signal()
}

func (p *tracePump) Unthrottle() {
	p.queue.Unthrottle()
	p.signal()
}

// ResetThrottles drops every factor pushed by Throttle.
func (p *tracePump) ResetThrottles() {
	p.queue.ResetThrottles()
	p.signal()
}

func (p *tracePump) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop halts the release goroutine and refuses further traces. Buffered
// traces stay queued.
func (p *tracePump) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Drain hands every buffered trace to the worker, ignoring the window.
func (p *tracePump) Drain() int {
	n := 0
	for {
		trace, ok := p.queue.PopNow()
		if !ok {
			return n
		}
		p.push(trace)
		n++
	}
}

// Discard drops every buffered trace and returns how many there were.
func (p *tracePump) Discard() int {
	n := 0
	for {
		if _, ok := p.queue.PopNow(); !ok {
			return n
		}
		n++
	}
}

func (p *tracePump) Len() int {
	return p.queue.Len()
}

func (p *tracePump) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if trace, ok := p.queue.Pop(); ok {
			p.push(trace)
			continue
		}

		var timeout <-chan time.Time
		if p.queue.Len() > 0 {
			timeout = p.clock.After(p.queue.Until())
		}

		select {
		case <-timeout:
		case <-p.wake:
		case <-ctx.Done():
			return
		}
	}
}

func (p *tracePump) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
