package beaconprometheus_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	beacon "github.com/beaconhq/beacon-go"
	beaconprometheus "github.com/beaconhq/beacon-go/prometheus"
)

type staticSource []beacon.WorkerStats

func (s staticSource) Stats() []beacon.WorkerStats { return s }

func TestCollect(t *testing.T) {
	source := staticSource{
		{
			Feature:       beacon.FeatureNotices,
			State:         beacon.StateSuspended,
			QueueSize:     3,
			QueueCapacity: 100,
			Dropped:       2,
			Delivered:     10,
			Failed:        1,
			Multiplier:    1.5625,
		},
	}
	c := beaconprometheus.NewCollector(source)

	expected := `
# HELP beacon_queue_size Number of payloads waiting in a feature queue
# TYPE beacon_queue_size gauge
beacon_queue_size{feature="notices"} 3
# HELP beacon_dropped_total Payloads dropped because a feature queue was full
# TYPE beacon_dropped_total counter
beacon_dropped_total{feature="notices"} 2
# HELP beacon_delivered_total Payloads accepted by the backend
# TYPE beacon_delivered_total counter
beacon_delivered_total{feature="notices"} 10
# HELP beacon_throttle_multiplier Current backoff multiplier applied to the send interval
# TYPE beacon_throttle_multiplier gauge
beacon_throttle_multiplier{feature="notices"} 1.5625
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"beacon_queue_size", "beacon_dropped_total", "beacon_delivered_total", "beacon_throttle_multiplier")
	require.NoError(t, err)

	assert.Equal(t, 5, testutil.CollectAndCount(c, "beacon_worker_state"))
}

func TestRegisterDispatcher(t *testing.T) {
	backend := &beacon.MockBackend{}
	d, err := beacon.NewDispatcher(beacon.ClientOptions{Backend: backend, ThrottleInterval: time.Microsecond})
	require.NoError(t, err)
	defer d.Kill()

	reg := prometheus.NewRegistry()
	c, err := beaconprometheus.Register(reg, d)
	require.NoError(t, err)
	assert.Zero(t, testutil.CollectAndCount(c))

	require.True(t, d.Push(beacon.FeatureDeploys, &beacon.Deploy{ID: "1"}))
	require.True(t, d.Flush(2*time.Second))

	expected := `
# HELP beacon_delivered_total Payloads accepted by the backend
# TYPE beacon_delivered_total counter
beacon_delivered_total{feature="deploys"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "beacon_delivered_total"))

	_, err = beaconprometheus.Register(reg, d)
	assert.Error(t, err)
}
