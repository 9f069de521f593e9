// Package queue provides the FIFO structures used between producers and the
// delivery workers.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultCapacity = 100

type entry[T any] struct {
	value  T
	forced bool
}

// Bounded is a thread-safe FIFO with a fixed capacity for regular items.
//
// Offer never blocks: once Size reaches Capacity further items are dropped.
// Force enqueues control values (markers, sentinels) regardless of capacity;
// they keep their FIFO position but do not count toward Size.
//
// Pop is meant for a single consumer goroutine.
type Bounded[T any] struct {
	mu       sync.Mutex
	entries  []entry[T]
	size     int
	capacity int
	signal   chan struct{}

	offered   int64
	dropped   int64
	onDropped func(item T)
}

// NewBounded returns a queue holding at most capacity regular items. A
// non-positive capacity falls back to the default of 100.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bounded[T]{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// SetDroppedCallback registers a function invoked for every item rejected by
// Offer. It runs on the producer goroutine and must not block.
func (q *Bounded[T]) SetDroppedCallback(callback func(item T)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDropped = callback
}

// Offer appends item unless the queue is full. It reports whether the item
// was accepted.
func (q *Bounded[T]) Offer(item T) bool {
	atomic.AddInt64(&q.offered, 1)

	q.mu.Lock()
	if q.size >= q.capacity {
		onDropped := q.onDropped
		q.mu.Unlock()
		atomic.AddInt64(&q.dropped, 1)
		if onDropped != nil {
			onDropped(item)
		}
		return false
	}
	q.entries = append(q.entries, entry[T]{value: item})
	q.size++
	q.mu.Unlock()

	q.wake()
	return true
}

// Force appends item without checking capacity.
func (q *Bounded[T]) Force(item T) {
	q.mu.Lock()
	q.entries = append(q.entries, entry[T]{value: item, forced: true})
	q.mu.Unlock()

	q.wake()
}

// Pop removes and returns the oldest entry, blocking until one is available.
// It returns false if ctx is done first, even when entries are queued.
func (q *Bounded[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		if ctx.Err() != nil {
			return zero, false
		}
		if item, ok := q.TryPop(); ok {
			return item, true
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// TryPop removes and returns the oldest entry without blocking.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.entries) == 0 {
		return zero, false
	}

	e := q.entries[0]
	q.entries[0] = entry[T]{}
	q.entries = q.entries[1:]
	if !e.forced {
		q.size--
	}
	if len(q.entries) > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return e.value, true
}

// Clear removes and returns every queued entry, control values included.
func (q *Bounded[T]) Clear() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	out := make([]T, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.value
	}
	q.entries = nil
	q.size = 0
	return out
}

// Size returns the number of regular items queued.
func (q *Bounded[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Len returns the number of entries queued, control values included.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Bounded[T]) Capacity() int {
	return q.capacity
}

func (q *Bounded[T]) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Bounded[T]) OfferedCount() int64 {
	return atomic.LoadInt64(&q.offered)
}

func (q *Bounded[T]) DroppedCount() int64 {
	return atomic.LoadInt64(&q.dropped)
}

func (q *Bounded[T]) AcceptedCount() int64 {
	return q.OfferedCount() - q.DroppedCount()
}

func (q *Bounded[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
