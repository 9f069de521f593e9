package queue

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/beaconhq/beacon-go/internal/throttle"
)

const defaultMeteredInterval = time.Second

// Metered releases at most one value per time window. Values pushed in
// between accumulate (up to max) and a Pop before the window closes yields
// nothing.
//
// Throttling stretches only the remaining distance to the next release, it
// never restarts the window.
type Metered[T any] struct {
	mu        sync.Mutex
	clock     clock.PassiveClock
	interval  time.Duration
	max       int
	throttles throttle.Stack
	future    time.Time
	values    []T
}

// NewMetered returns a queue releasing one value per interval. A nil clock
// uses the real clock.
func NewMetered[T any](interval time.Duration, max int, clk clock.PassiveClock) *Metered[T] {
	if interval <= 0 {
		interval = defaultMeteredInterval
	}
	if max <= 0 {
		max = defaultCapacity
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	q := &Metered[T]{
		clock:    clk,
		interval: interval,
		max:      max,
	}
	q.future = clk.Now().Add(q.effectiveLocked())
	return q
}

// Push appends value unless max values are already buffered.
func (q *Metered[T]) Push(value T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.values) >= q.max {
		return false
	}
	q.values = append(q.values, value)
	return true
}

// Pop returns the oldest value once the current window has elapsed and
// schedules the next window from now.
func (q *Metered[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	now := q.clock.Now()
	if now.Before(q.future) || len(q.values) == 0 {
		return zero, false
	}
	v := q.shiftLocked()
	q.future = now.Add(q.effectiveLocked())
	return v, true
}

// PopNow returns the oldest value regardless of the window.
func (q *Metered[T]) PopNow() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.values) == 0 {
		var zero T
		return zero, false
	}
	return q.shiftLocked(), true
}

// Throttle pushes factor and pushes the next release point back by the
// growth of the effective interval.
func (q *Metered[T]) Throttle(factor float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := q.effectiveLocked()
	if !q.throttles.Push(factor) {
		return
	}
	q.future = q.future.Add(q.effectiveLocked() - before)
}

// Unthrottle removes the most recent factor and pulls the next release
// point forward by the same delta Throttle applied.
func (q *Metered[T]) Unthrottle() (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := q.effectiveLocked()
	factor, ok := q.throttles.Pop()
	if !ok {
		return 0, false
	}
	q.future = q.future.Add(q.effectiveLocked() - before)
	return factor, true
}

// ResetThrottles removes every factor and pulls the next release point
// forward by the accumulated delta.
func (q *Metered[T]) ResetThrottles() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.throttles.Len() == 0 {
		return
	}
	before := q.effectiveLocked()
	q.throttles.Reset()
	q.future = q.future.Add(q.effectiveLocked() - before)
}

// Future returns the earliest time Pop will release a value.
func (q *Metered[T]) Future() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.future
}

// Until returns the time left before the window opens, zero if it is open.
func (q *Metered[T]) Until() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	d := q.future.Sub(q.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Interval returns the effective interval: base times every active factor.
func (q *Metered[T]) Interval() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.effectiveLocked()
}

func (q *Metered[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.values)
}

func (q *Metered[T]) effectiveLocked() time.Duration {
	return q.throttles.Apply(q.interval)
}

func (q *Metered[T]) shiftLocked() T {
	var zero T
	v := q.values[0]
	q.values[0] = zero
	q.values = q.values[1:]
	return v
}
