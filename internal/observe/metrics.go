// Package observe provides the host's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware for the optional diagnostics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from /metrics when the diagnostics listener is enabled. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all host metrics.
const meterName = "github.com/customcuts/whisperhost"

// Metrics holds all OpenTelemetry metric instruments for the host.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks engine latency per audio chunk. Use with
	// attribute.String("engine", ...).
	TranscriptionDuration metric.Float64Histogram

	// DetectionDuration tracks pattern detection latency per audio chunk.
	DetectionDuration metric.Float64Histogram

	// EngineLoadDuration tracks how long engine construction took. Use with
	// attribute.String("engine", ...), attribute.String("status", ...).
	EngineLoadDuration metric.Float64Histogram

	// --- Counters ---

	// Messages counts inbound protocol messages. Use with
	// attribute.String("type", ...).
	Messages metric.Int64Counter

	// Segments counts stitched transcript segments. Use with
	// attribute.String("outcome", "accepted"|"overlap"|"duplicate"|"empty").
	Segments metric.Int64Counter

	// Detections counts pattern detections. Use with
	// attribute.String("method", ...), attribute.Bool("confirmed", ...).
	Detections metric.Int64Counter

	// ProviderErrors counts engine and provider errors. Use with
	// attribute.String("provider", ...), attribute.String("kind", ...).
	ProviderErrors metric.Int64Counter

	// WriteFailures counts frames that could not be written to the
	// protocol stream.
	WriteFailures metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks tasks waiting in the worker queues. Use with
	// attribute.String("queue", ...).
	QueueDepth metric.Int64UpDownCounter

	// --- Diagnostics listener ---

	// HTTPRequestDuration tracks diagnostics request time. Use with
	// attribute.String("endpoint", ...), attribute.String("status", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-chunk inference and model loading.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("whisperhost.transcription.duration",
		metric.WithDescription("Latency of chunk transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectionDuration, err = m.Float64Histogram("whisperhost.detection.duration",
		metric.WithDescription("Latency of pattern detection per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineLoadDuration, err = m.Float64Histogram("whisperhost.engine_load.duration",
		metric.WithDescription("Time spent constructing an engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Messages, err = m.Int64Counter("whisperhost.messages",
		metric.WithDescription("Inbound protocol messages by type."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("whisperhost.segments",
		metric.WithDescription("Stitched transcript segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("whisperhost.detections",
		metric.WithDescription("Pattern detections by method and confirmation."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("whisperhost.provider.errors",
		metric.WithDescription("Engine and provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.WriteFailures, err = m.Int64Counter("whisperhost.write.failures",
		metric.WithDescription("Frames that could not be written to the protocol stream."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("whisperhost.queue.depth",
		metric.WithDescription("Tasks waiting in a worker queue."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("whisperhost.http.request.duration",
		metric.WithDescription("Diagnostics HTTP request latency by endpoint and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordMessage counts one inbound message of the given type.
func (m *Metrics) RecordMessage(ctx context.Context, msgType string) {
	m.Messages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// RecordSegment counts one stitched segment with the given outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDetection counts one detection.
func (m *Metrics) RecordDetection(ctx context.Context, method string, confirmed bool) {
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.Bool("confirmed", confirmed),
		),
	)
}

// RecordProviderError counts one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordEngineLoad records the outcome and duration of an engine load.
func (m *Metrics) RecordEngineLoad(ctx context.Context, engine string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EngineLoadDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}
