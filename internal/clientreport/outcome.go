package clientreport

import (
	"time"

	"github.com/beaconhq/beacon-go/internal/protocol"
)

// OutcomeKey uniquely identifies an outcome bucket for aggregation.
type OutcomeKey struct {
	Reason  DiscardReason
	Feature protocol.Feature
}

// DiscardedItem is the aggregated count for one OutcomeKey.
type DiscardedItem struct {
	Reason   DiscardReason    `json:"reason"`
	Feature  protocol.Feature `json:"feature"`
	Quantity int64            `json:"quantity"`
}

// ClientReport is a snapshot of discards since the previous report.
type ClientReport struct {
	Timestamp      time.Time       `json:"timestamp"`
	DiscardedItems []DiscardedItem `json:"discarded_items"`
}

// Total sums the quantities of every entry matching reason.
func (r *ClientReport) Total(reason DiscardReason) int64 {
	if r == nil {
		return 0
	}
	var total int64
	for _, d := range r.DiscardedItems {
		if d.Reason == reason {
			total += d.Quantity
		}
	}
	return total
}
