package clientreport

// DiscardReason represents why an item was discarded.
type DiscardReason string

const (
	// ReasonQueueOverflow indicates the worker queue was full.
	ReasonQueueOverflow DiscardReason = "queue_overflow"

	// ReasonBufferOverflow indicates that a batching stage was full.
	ReasonBufferOverflow DiscardReason = "buffer_overflow"

	// ReasonSuspended indicates the worker refused the item during a
	// suspension window or after shutdown.
	ReasonSuspended DiscardReason = "suspended"

	// ReasonKilled indicates the item was still queued when the worker was
	// forcibly stopped.
	ReasonKilled DiscardReason = "killed"

	// ReasonNetworkError indicates the backend could not reach the collector.
	ReasonNetworkError DiscardReason = "network_error"

	// ReasonSendError indicates the collector answered with a non-2xx status.
	ReasonSendError DiscardReason = "send_error"

	// ReasonInternalError indicates delivery panicked.
	ReasonInternalError DiscardReason = "internal_error"
)
