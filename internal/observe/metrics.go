// Package observe provides application-wide observability primitives for
// loopcast: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all loopcast metrics.
const meterName = "github.com/loopcast/loopcast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FrameReadDuration tracks how long each frame pull takes. Staying well
	// under the 20 ms frame period is the whole game, hence the tight buckets.
	FrameReadDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts PCM frames delivered to the voice transport. Use with
	// attribute: attribute.String("source", ...)
	FramesSent metric.Int64Counter

	// SilenceFrames counts silence frames emitted because the source starved.
	// Use with attribute: attribute.String("source", ...)
	SilenceFrames metric.Int64Counter

	// StreamReconnects counts reconnect attempts on network sources. Use with
	// attribute: attribute.String("result", "ok"|"failed")
	StreamReconnects metric.Int64Counter

	// SessionsStarted counts playback sessions by source type and outcome of
	// the start. Use with attributes:
	//   attribute.String("source", ...), attribute.String("status", ...)
	SessionsStarted metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live playback sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// frameReadBuckets defines histogram bucket boundaries (in seconds) for the
// per-frame read latency. The frame period is 20 ms; anything above it means
// the cadence slipped.
var frameReadBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.015, 0.02, 0.03, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameReadDuration, err = m.Float64Histogram("loopcast.frame.read.duration",
		metric.WithDescription("Latency of pulling one PCM frame from the pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameReadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("loopcast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("loopcast.frames.sent",
		metric.WithDescription("Total PCM frames delivered to the voice transport by source."),
	); err != nil {
		return nil, err
	}
	if met.SilenceFrames, err = m.Int64Counter("loopcast.frames.silence",
		metric.WithDescription("Total silence frames emitted because the source starved."),
	); err != nil {
		return nil, err
	}
	if met.StreamReconnects, err = m.Int64Counter("loopcast.stream.reconnects",
		metric.WithDescription("Total network-stream reconnect attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("loopcast.sessions.started",
		metric.WithDescription("Total playback sessions by source type and start outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("loopcast.active_sessions",
		metric.WithDescription("Number of live playback sessions."),
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

// RecordFrame records one delivered frame along with its pull latency,
// counting it as silence when the pipeline had to pad the cadence.
func (m *Metrics) RecordFrame(ctx context.Context, source string, readDuration time.Duration, silence bool) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.FramesSent.Add(ctx, 1, attrs)
	m.FrameReadDuration.Record(ctx, readDuration.Seconds(), attrs)
	if silence {
		m.SilenceFrames.Add(ctx, 1, attrs)
	}
}

// RecordReconnect records one network-stream reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.StreamReconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordSessionStart records a session start attempt and, on success, bumps
// the active-session gauge. Pair a successful start with [Metrics.RecordSessionEnd].
func (m *Metrics) RecordSessionStart(ctx context.Context, source, status string) {
	m.SessionsStarted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
	if status == "ok" {
		m.ActiveSessions.Add(ctx, 1)
	}
}

// RecordSessionEnd decrements the active-session gauge.
func (m *Metrics) RecordSessionEnd(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
