package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.AudioPackets == nil || m.Reconnects == nil || m.Terminations == nil ||
		m.Flushes == nil || m.DuplicatesDropped == nil || m.SegmentsArchived == nil ||
		m.HandoffErrors == nil {
		t.Error("expected all counters to be initialised")
	}
	if m.ActiveSessions == nil {
		t.Error("expected the active sessions gauge to be initialised")
	}
	if m.SendDuration == nil || m.HTTPRequestDuration == nil {
		t.Error("expected all histograms to be initialised")
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("expected DefaultMetrics to return the same instance")
	}
}

func TestMetricsRecordHelpers(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Recording must not panic against any provider.
	ctx := context.Background()
	m.RecordFlush(ctx, "dwell")
	m.RecordFlush(ctx, "teardown")
	m.RecordReconnect(ctx, true)
	m.RecordReconnect(ctx, false)
}

func TestAttr(t *testing.T) {
	kv := Attr("status", "ok")
	if string(kv.Key) != "status" || kv.Value.AsString() != "ok" {
		t.Errorf("Attr = %v/%v, want status/ok", kv.Key, kv.Value.AsString())
	}
}
