package beacon

import (
	"time"

	"github.com/beaconhq/beacon-go/internal/metrics"
)

// Event is a custom, structured occurrence reported by the application.
type Event struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"ts"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Tags      map[string]string      `json:"tags,omitempty"`
}

// EventBatch is the payload delivered by the events worker.
type EventBatch struct {
	ID     string   `json:"id"`
	Events []*Event `json:"events"`
}

func (b *EventBatch) PayloadID() string {
	return b.ID
}

// MetricsPayload is one chunk of aggregated metrics.
type MetricsPayload struct {
	ID          string           `json:"id"`
	Environment string           `json:"environment,omitempty"`
	Hostname    string           `json:"hostname,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Metrics     []metrics.Metric `json:"metrics"`
}

func (p *MetricsPayload) PayloadID() string {
	return p.ID
}

// Trace is a timed operation, such as a request or a background job.
type Trace struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
	Tags      map[string]string      `json:"tags,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func (t *Trace) PayloadID() string {
	return t.ID
}

// Deploy records a release of the application.
type Deploy struct {
	ID            string `json:"id"`
	Environment   string `json:"environment"`
	Revision      string `json:"revision"`
	Repository    string `json:"repository,omitempty"`
	LocalUsername string `json:"local_username,omitempty"`
}

func (d *Deploy) PayloadID() string {
	return d.ID
}
