package beacon

import (
	"crypto/x509"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

const (
	defaultShutdownTimeout  = 5 * time.Second
	defaultMetricsChunkSize = 500
	defaultEventsChunkSize  = 100

	envAPIKey      = "BEACON_API_KEY"
	envEndpoint    = "BEACON_ENDPOINT"
	envEnvironment = "BEACON_ENVIRONMENT"
)

// ClientOptions configures a Dispatcher.
type ClientOptions struct {
	// APIKey authenticates with the collector. Falls back to the
	// BEACON_API_KEY environment variable. Without a key nothing is sent.
	APIKey string
	// Endpoint is the collector base URL. Falls back to BEACON_ENDPOINT.
	Endpoint string
	// Environment is attached to every payload. Falls back to
	// BEACON_ENVIRONMENT.
	Environment string
	// Hostname defaults to os.Hostname.
	Hostname string
	// Debug raises the default logger to debug level.
	Debug  bool
	Logger logrus.FieldLogger
	// Backend replaces the HTTP backend, for instance with the fasthttp one
	// or a test double.
	Backend Backend

	HTTPClient    *http.Client
	HTTPTransport http.RoundTripper
	HTTPProxy     string
	HTTPSProxy    string
	CaCerts       *x509.CertPool
	// Compress gzips request bodies.
	Compress bool

	// QueueSize is the per-feature queue capacity. FeatureQueueSizes
	// overrides it for single features.
	QueueSize         int
	FeatureQueueSizes map[Feature]int
	// ThrottleInterval is the base pause between deliveries.
	ThrottleInterval time.Duration
	ThrottleFactor   float64
	SuspendCooldown  time.Duration
	// ShutdownTimeout bounds Close.
	ShutdownTimeout time.Duration

	MetricsBatchMax      int
	MetricsBatchInterval time.Duration
	MetricsChunkSize     int

	EventsBatchMax      int
	EventsBatchInterval time.Duration
	EventsChunkSize     int

	// TracesInterval is the minimum spacing between released traces.
	TracesInterval time.Duration
	TracesMax      int

	// Clock drives throttling, suspension, metering and batching.
	Clock clock.WithTicker
}

func (o *ClientOptions) setDefaults() {
	if o.APIKey == "" {
		o.APIKey = os.Getenv(envAPIKey)
	}
	if o.Endpoint == "" {
		o.Endpoint = os.Getenv(envEndpoint)
	}
	if o.Environment == "" {
		o.Environment = os.Getenv(envEnvironment)
	}
	if o.Hostname == "" {
		o.Hostname, _ = os.Hostname()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultWorkerQueueSize
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}
	if o.MetricsBatchMax <= 0 {
		o.MetricsBatchMax = defaultBatchMax
	}
	if o.MetricsBatchInterval <= 0 {
		o.MetricsBatchInterval = defaultBatchInterval
	}
	if o.MetricsChunkSize <= 0 {
		o.MetricsChunkSize = defaultMetricsChunkSize
	}
	if o.EventsBatchMax <= 0 {
		o.EventsBatchMax = defaultBatchMax
	}
	if o.EventsBatchInterval <= 0 {
		o.EventsBatchInterval = defaultBatchInterval
	}
	if o.EventsChunkSize <= 0 {
		o.EventsChunkSize = defaultEventsChunkSize
	}
	if o.TracesInterval <= 0 {
		o.TracesInterval = defaultTraceInterval
	}
	if o.TracesMax <= 0 {
		o.TracesMax = defaultTraceMax
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
}

func (o *ClientOptions) queueSize(feature Feature) int {
	if size, ok := o.FeatureQueueSizes[feature]; ok && size > 0 {
		return size
	}
	return o.QueueSize
}
