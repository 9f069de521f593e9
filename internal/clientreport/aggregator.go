package clientreport

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beaconhq/beacon-go/internal/protocol"
)

// Aggregator collects discarded item outcomes.
// Uses atomic operations to be safe for concurrent use. A nil Aggregator
// records nothing.
type Aggregator struct {
	mu       sync.Mutex
	outcomes map[OutcomeKey]*atomic.Int64

	enabled atomic.Bool
}

// NewAggregator creates a new client report aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{
		outcomes: make(map[OutcomeKey]*atomic.Int64),
	}
	a.enabled.Store(true)
	return a
}

// SetEnabled enables or disables outcome recording.
func (a *Aggregator) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// IsEnabled returns whether outcome recording is enabled.
func (a *Aggregator) IsEnabled() bool {
	return a.enabled.Load()
}

// Record records quantity discarded items.
func (a *Aggregator) Record(reason DiscardReason, feature protocol.Feature, quantity int64) {
	if a == nil || !a.enabled.Load() || quantity <= 0 {
		return
	}

	key := OutcomeKey{Reason: reason, Feature: feature}

	a.mu.Lock()
	counter, exists := a.outcomes[key]
	if !exists {
		counter = &atomic.Int64{}
		a.outcomes[key] = counter
	}
	a.mu.Unlock()

	counter.Add(quantity)
}

// RecordOne records a single discarded item.
func (a *Aggregator) RecordOne(reason DiscardReason, feature protocol.Feature) {
	a.Record(reason, feature, 1)
}

// TakeReport atomically takes all accumulated outcomes and returns a
// ClientReport, or nil when nothing was discarded.
func (a *Aggregator) TakeReport() *ClientReport {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.outcomes) == 0 {
		return nil
	}

	var items []DiscardedItem
	for key, counter := range a.outcomes {
		quantity := counter.Swap(0)
		if quantity > 0 {
			items = append(items, DiscardedItem{
				Reason:   key.Reason,
				Feature:  key.Feature,
				Quantity: quantity,
			})
		}
	}

	// Clear empty counters to prevent unbounded growth
	for key, counter := range a.outcomes {
		if counter.Load() == 0 {
			delete(a.outcomes, key)
		}
	}

	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Feature != items[j].Feature {
			return items[i].Feature < items[j].Feature
		}
		return items[i].Reason < items[j].Reason
	})

	return &ClientReport{
		Timestamp:      time.Now(),
		DiscardedItems: items,
	}
}
