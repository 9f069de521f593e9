package metrics

import (
	"time"

	"github.com/google/uuid"
)

// Batch accumulates items until it holds Max of them or FlushAt passes.
type Batch[T any] struct {
	ID        string
	Name      string
	Max       int
	Interval  time.Duration
	CreatedAt time.Time
	FlushAt   time.Time

	items []T
}

func NewBatch[T any](name string, max int, interval time.Duration, now time.Time) *Batch[T] {
	return &Batch[T]{
		ID:        uuid.NewString(),
		Name:      name,
		Max:       max,
		Interval:  interval,
		CreatedAt: now,
		FlushAt:   now.Add(interval),
	}
}

func (b *Batch[T]) Add(item T) {
	b.items = append(b.items, item)
}

func (b *Batch[T]) Len() int {
	return len(b.items)
}

func (b *Batch[T]) Full() bool {
	return b.Max > 0 && len(b.items) >= b.Max
}

// FlushReady reports whether the batch should be delivered. An empty batch
// never is.
func (b *Batch[T]) FlushReady(now time.Time) bool {
	if len(b.items) == 0 {
		return false
	}
	return b.Full() || !now.Before(b.FlushAt)
}

// Items returns the accumulated items in insertion order.
func (b *Batch[T]) Items() []T {
	return b.items
}
