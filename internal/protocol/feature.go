package protocol

// Feature names a logical payload stream. Every feature is delivered by its
// own worker and queue.
type Feature string

const (
	FeatureNotices Feature = "notices"
	FeatureEvents  Feature = "events"
	FeatureMetrics Feature = "metrics"
	FeatureTraces  Feature = "traces"
	FeatureDeploys Feature = "deploys"
)

func (f Feature) String() string {
	return string(f)
}

// Path is the collector API path the feature posts to.
func (f Feature) Path() string {
	return "/v1/" + string(f)
}
