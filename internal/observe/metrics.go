// Package observe provides application-wide observability primitives for
// dyadscribe: OpenTelemetry metrics and the provider setup that exposes them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dyadscribe metrics.
const meterName = "github.com/interactlab/dyadscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SegmentDuration tracks token-to-utterance segmentation latency.
	SegmentDuration metric.Float64Histogram

	// ClassifyDuration tracks classification service call latency. Use with
	// attribute.String("stage", ...).
	ClassifyDuration metric.Float64Histogram

	// StageRuns counts pipeline stage executions. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StageRuns metric.Int64Counter

	// UtterancePatches counts persisted utterance patch operations. Use with
	// attribute.String("stage", ...).
	UtterancePatches metric.Int64Counter

	// ClassifierErrors counts classification call and parse failures. Use
	// with attributes:
	//   attribute.String("stage", ...), attribute.String("kind", ...)
	ClassifierErrors metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets cover slow LLM round-trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentDuration, err = m.Float64Histogram("dyadscribe.segment.duration",
		metric.WithDescription("Latency of token-to-utterance segmentation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("dyadscribe.classify.duration",
		metric.WithDescription("Latency of classification service calls by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageRuns, err = m.Int64Counter("dyadscribe.stage.runs",
		metric.WithDescription("Total pipeline stage executions by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.UtterancePatches, err = m.Int64Counter("dyadscribe.utterance.patches",
		metric.WithDescription("Total persisted utterance patch operations by stage."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierErrors, err = m.Int64Counter("dyadscribe.classifier.errors",
		metric.WithDescription("Total classification failures by stage and kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
