package testutils

import (
	"sync"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

// RecordingClock is a fake clock whose After fires immediately. Every wait
// is recorded and moves the fake time forward by the requested duration.
type RecordingClock struct {
	*testingclock.FakeClock

	mu    sync.Mutex
	waits []time.Duration
}

func NewRecordingClock(t time.Time) *RecordingClock {
	return &RecordingClock{FakeClock: testingclock.NewFakeClock(t)}
}

func (c *RecordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()

	c.FakeClock.Step(d)
	ch := make(chan time.Time, 1)
	ch <- c.FakeClock.Now()
	return ch
}

// Waits returns every duration passed to After, in call order.
func (c *RecordingClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}
