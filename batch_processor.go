package beacon

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/beaconhq/beacon-go/internal/metrics"
)

const (
	defaultBatchMax      = 100
	defaultBatchInterval = 5 * time.Second
)

// batchProcessor accumulates items on its own goroutine and hands them to
// sendBatch once the batch is full or its interval has elapsed since the
// first item arrived.
type batchProcessor[T any] struct {
	name      string
	max       int
	interval  time.Duration
	clock     clock.Clock
	sendBatch func([]T)
	onDropped func(item T)

	itemCh  chan T
	flushCh chan chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newBatchProcessor[T any](name string, max int, interval time.Duration, clk clock.Clock, sendBatch func([]T)) *batchProcessor[T] {
	if max <= 0 {
		max = defaultBatchMax
	}
	if interval <= 0 {
		interval = defaultBatchInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &batchProcessor[T]{
		name:      name,
		max:       max,
		interval:  interval,
		clock:     clk,
		sendBatch: sendBatch,
		itemCh:    make(chan T, max),
		flushCh:   make(chan chan struct{}),
	}
}

// Send hands item to the processor without blocking. It returns false when
// the processor is not running or the intake buffer is full.
func (p *batchProcessor[T]) Send(item T) bool {
	p.mu.Lock()
	if p.done == nil {
		p.mu.Unlock()
		return false
	}
	select {
	case p.itemCh <- item:
		p.mu.Unlock()
		return true
	default:
	}
	p.mu.Unlock()

	if p.onDropped != nil {
		p.onDropped(item)
	}
	return false
}

// Start launches the processing goroutine unless it is already running.
func (p *batchProcessor[T]) Start() {
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

// Flush delivers the pending batch. It returns false if ctx ends before the
// batch has been handed over.
func (p *batchProcessor[T]) Flush(ctx context.Context) bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return true
	}

	flushed := make(chan struct{})
	select {
	case p.flushCh <- flushed:
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}

	select {
	case <-flushed:
		return true
	case <-ctx.Done():
		return false
	}
}

// Shutdown delivers the pending batch and stops the goroutine. Items sent
// after Shutdown returns are refused.
func (p *batchProcessor[T]) Shutdown() {
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

func (p *batchProcessor[T]) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	batch := p.newBatch()
	var timer clock.Timer
	var timerC <-chan time.Time

	send := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if batch.Len() > 0 {
			p.sendBatch(batch.Items())
		}
		batch = p.newBatch()
	}
	drain := func() {
		for {
			select {
			case item := <-p.itemCh:
				batch.Add(item)
			default:
				return
			}
		}
	}

	for {
		select {
		case item := <-p.itemCh:
			if batch.Len() == 0 {
				batch = p.newBatch()
				timer = p.clock.NewTimer(p.interval)
				timerC = timer.C()
			}
			batch.Add(item)
			if batch.FlushReady(p.clock.Now()) {
				send()
			}
		case <-timerC:
			timer, timerC = nil, nil
			send()
		case flushed := <-p.flushCh:
			drain()
			send()
			close(flushed)
		case <-ctx.Done():
			drain()
			send()
			return
		}
	}
}

func (p *batchProcessor[T]) newBatch() *metrics.Batch[T] {
	return metrics.NewBatch[T](p.name, p.max, p.interval, p.clock.Now())
}
