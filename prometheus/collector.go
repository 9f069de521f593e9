// Package beaconprometheus exposes the delivery queues of a
// beacon.Dispatcher as Prometheus metrics.
package beaconprometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	beacon "github.com/beaconhq/beacon-go"
)

const MetricPrefix = "beacon_"

var queueSizeDesc = prometheus.NewDesc(
	MetricPrefix+"queue_size",
	"Number of payloads waiting in a feature queue",
	[]string{"feature"},
	nil,
)

var queueCapacityDesc = prometheus.NewDesc(
	MetricPrefix+"queue_capacity",
	"Maximum number of payloads a feature queue holds",
	[]string{"feature"},
	nil,
)

var droppedDesc = prometheus.NewDesc(
	MetricPrefix+"dropped_total",
	"Payloads dropped because a feature queue was full",
	[]string{"feature"},
	nil,
)

var deliveredDesc = prometheus.NewDesc(
	MetricPrefix+"delivered_total",
	"Payloads accepted by the backend",
	[]string{"feature"},
	nil,
)

var failedDesc = prometheus.NewDesc(
	MetricPrefix+"failed_total",
	"Payloads the backend did not accept",
	[]string{"feature"},
	nil,
)

var throttleDesc = prometheus.NewDesc(
	MetricPrefix+"throttle_multiplier",
	"Current backoff multiplier applied to the send interval",
	[]string{"feature"},
	nil,
)

var stateDesc = prometheus.NewDesc(
	MetricPrefix+"worker_state",
	"Set to 1 for the current state of a feature worker",
	[]string{"feature", "state"},
	nil,
)

var states = []beacon.WorkerState{
	beacon.StateStopped,
	beacon.StateStarting,
	beacon.StateRunning,
	beacon.StateSuspended,
	beacon.StateShuttingDown,
}

// StatsSource is implemented by *beacon.Dispatcher.
type StatsSource interface {
	Stats() []beacon.WorkerStats
}

// Collector reads worker stats on every scrape.
type Collector struct {
	source StatsSource
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(source StatsSource) *Collector {
	return &Collector{source: source}
}

// Register creates a collector for source and registers it with reg, or
// with the default registerer when reg is nil.
func Register(reg prometheus.Registerer, source StatsSource) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := NewCollector(source)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) Describe(desc chan<- *prometheus.Desc) {
	desc <- queueSizeDesc
	desc <- queueCapacityDesc
	desc <- droppedDesc
	desc <- deliveredDesc
	desc <- failedDesc
	desc <- throttleDesc
	desc <- stateDesc
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for _, s := range c.source.Stats() {
		feature := s.Feature.String()
		metrics <- prometheus.MustNewConstMetric(queueSizeDesc, prometheus.GaugeValue, float64(s.QueueSize), feature)
		metrics <- prometheus.MustNewConstMetric(queueCapacityDesc, prometheus.GaugeValue, float64(s.QueueCapacity), feature)
		metrics <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(s.Dropped), feature)
		metrics <- prometheus.MustNewConstMetric(deliveredDesc, prometheus.CounterValue, float64(s.Delivered), feature)
		metrics <- prometheus.MustNewConstMetric(failedDesc, prometheus.CounterValue, float64(s.Failed), feature)
		metrics <- prometheus.MustNewConstMetric(throttleDesc, prometheus.GaugeValue, s.Multiplier, feature)
		for _, state := range states {
			value := 0.0
			if s.State == state {
				value = 1
			}
			metrics <- prometheus.MustNewConstMetric(stateDesc, prometheus.GaugeValue, value, feature, state.String())
		}
	}
}
