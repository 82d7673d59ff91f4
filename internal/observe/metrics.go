// Package observe provides application-wide observability primitives for the
// Neda voice relay: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Neda metrics.
const meterName = "github.com/neda-ai/neda"

// Metrics holds all OpenTelemetry metric instruments for the relay.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// UpstreamConnectDuration tracks how long connecting the speech provider
	// takes, from start request to session established.
	UpstreamConnectDuration metric.Float64Histogram

	// BriefingAssemblyDuration tracks context snapshot assembly latency.
	BriefingAssemblyDuration metric.Float64Histogram

	// --- Counters ---

	// FramesForwarded counts microphone frames relayed to the upstream
	// provider. Use with attribute.String("provider", ...).
	FramesForwarded metric.Int64Counter

	// FramesDropped counts frames discarded because no upstream was open.
	FramesDropped metric.Int64Counter

	// AudioChunksRelayed counts synthesised audio chunks forwarded to clients.
	AudioChunksRelayed metric.Int64Counter

	// Interruptions counts model turns cut off by user speech.
	Interruptions metric.Int64Counter

	// --- Error counters ---

	// UpstreamErrors counts provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	UpstreamErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.UpstreamConnectDuration, err = m.Float64Histogram("neda.upstream.connect.duration",
		metric.WithDescription("Latency of establishing an upstream speech session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BriefingAssemblyDuration, err = m.Float64Histogram("neda.briefing.assembly.duration",
		metric.WithDescription("Latency of assembling the organizational briefing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesForwarded, err = m.Int64Counter("neda.frames.forwarded",
		metric.WithDescription("Total microphone frames relayed upstream by provider."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("neda.frames.dropped",
		metric.WithDescription("Total microphone frames discarded without an open upstream."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksRelayed, err = m.Int64Counter("neda.audio.chunks.relayed",
		metric.WithDescription("Total synthesised audio chunks forwarded to clients."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("neda.interruptions",
		metric.WithDescription("Total model turns interrupted by user speech."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.UpstreamErrors, err = m.Int64Counter("neda.upstream.errors",
		metric.WithDescription("Total upstream provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("neda.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("neda.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUpstreamError records an upstream error counter increment with the
// standard attribute set.
func (m *Metrics) RecordUpstreamError(ctx context.Context, provider, kind string) {
	m.UpstreamErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFrameForwarded records one relayed microphone frame.
func (m *Metrics) RecordFrameForwarded(ctx context.Context, provider string) {
	m.FramesForwarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
