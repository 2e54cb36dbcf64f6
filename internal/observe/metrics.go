// Package observe provides application-wide observability primitives for
// auricle: OpenTelemetry metrics with the Prometheus exporter bridge,
// distributed tracing with trace-ID correlation, and the HTTP middleware
// that ties both to the ingest routes.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all auricle metrics.
const meterName = "github.com/auricle-audio/auricle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// AudioPackets counts inbound compressed audio packets per session
	// outcome. Use with attribute.String("status", "ok"|"decode_error").
	AudioPackets metric.Int64Counter

	// Reconnects counts upstream reconnection attempts. Use with
	// attribute.String("status", "ok"|"error").
	Reconnects metric.Int64Counter

	// Terminations counts sessions torn down after exhausting the
	// reconnect budget.
	Terminations metric.Int64Counter

	// Flushes counts non-empty transcript flushes. Use with
	// attribute.String("trigger", "dwell"|"explicit"|"teardown").
	Flushes metric.Int64Counter

	// DuplicatesDropped counts transcript fragments discarded by the
	// similarity filter.
	DuplicatesDropped metric.Int64Counter

	// SegmentsArchived counts audio segments written to the archival sink.
	SegmentsArchived metric.Int64Counter

	// HandoffErrors counts failed downstream analysis deliveries.
	HandoffErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Histograms ---

	// SendDuration tracks upstream audio send latency.
	SendDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// socket writes and HTTP handlers.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AudioPackets, err = m.Int64Counter("auricle.audio.packets",
		metric.WithDescription("Inbound compressed audio packets by status."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("auricle.upstream.reconnects",
		metric.WithDescription("Upstream reconnection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Terminations, err = m.Int64Counter("auricle.session.terminations",
		metric.WithDescription("Sessions terminated after exhausting the reconnect budget."),
	); err != nil {
		return nil, err
	}
	if met.Flushes, err = m.Int64Counter("auricle.transcript.flushes",
		metric.WithDescription("Non-empty transcript flushes by trigger."),
	); err != nil {
		return nil, err
	}
	if met.DuplicatesDropped, err = m.Int64Counter("auricle.transcript.duplicates_dropped",
		metric.WithDescription("Transcript fragments discarded as near-duplicates."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsArchived, err = m.Int64Counter("auricle.audio.segments_archived",
		metric.WithDescription("Audio segments written to the archival sink."),
	); err != nil {
		return nil, err
	}
	if met.HandoffErrors, err = m.Int64Counter("auricle.analysis.handoff_errors",
		metric.WithDescription("Failed downstream analysis deliveries."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("auricle.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}

	if met.SendDuration, err = m.Float64Histogram("auricle.upstream.send.duration",
		metric.WithDescription("Upstream audio send latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("auricle.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordFlush records a non-empty transcript flush with its trigger.
func (m *Metrics) RecordFlush(ctx context.Context, trigger string) {
	m.Flushes.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordReconnect records one reconnection attempt outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
