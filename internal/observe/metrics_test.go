package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the int64 sum of the data point of name whose
// attributes include every pair in attrs.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want int64 sum", name, met.Data)
	}
next:
	for _, dp := range sum.DataPoints {
		for _, kv := range attrs {
			if v, ok := dp.Attributes.Value(kv.Key); !ok || v != kv.Value {
				continue next
			}
		}
		return dp.Value
	}
	return 0
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSession(ctx, "executed")
	m.RecordSession(ctx, "executed")
	m.RecordSession(ctx, "unrecognized")
	m.RecordDispatch(ctx, "")
	m.RecordDispatch(ctx, "device_not_found")
	m.RecordProviderError(ctx, "deepgram", "stt")
	rm := collect(t, reader)

	tests := []struct {
		metric string
		attrs  []attribute.KeyValue
		want   int64
	}{
		{"ander.sessions.total", []attribute.KeyValue{Attr("outcome", "executed")}, 2},
		{"ander.sessions.total", []attribute.KeyValue{Attr("outcome", "unrecognized")}, 1},
		{"ander.sessions.total", []attribute.KeyValue{Attr("outcome", "failed")}, 0},
		{"ander.dispatch.total", []attribute.KeyValue{Attr("reason", "ok")}, 1},
		{"ander.dispatch.total", []attribute.KeyValue{Attr("reason", "device_not_found")}, 1},
		{"ander.provider.errors", []attribute.KeyValue{Attr("provider", "deepgram"), Attr("kind", "stt")}, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, rm, tt.metric, tt.attrs...); got != tt.want {
			t.Errorf("%s%v = %d, want %d", tt.metric, tt.attrs, got, tt.want)
		}
	}
}

func TestStageHistograms(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CaptureDuration.Record(ctx, 1.2)
	m.MatchDuration.Record(ctx, 0.004)
	m.DispatchDuration.Record(ctx, 0.02)
	m.SpeechDuration.Record(ctx, 2.5)
	m.SpeechDuration.Record(ctx, 1.5)
	rm := collect(t, reader)

	want := map[string]uint64{
		"ander.capture.duration":  1,
		"ander.match.duration":    1,
		"ander.dispatch.duration": 1,
		"ander.speech.duration":   2,
	}
	for name, count := range want {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("%s not recorded", name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Errorf("%s data = %+v", name, met.Data)
			continue
		}
		if got := hist.DataPoints[0].Count; got != count {
			t.Errorf("%s count = %d, want %d", name, got, count)
		}
		if len(hist.DataPoints[0].Bounds) != len(latencyBuckets) {
			t.Errorf("%s bounds = %v", name, hist.DataPoints[0].Bounds)
		}
	}
}

func TestActiveSessions(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	if got := counterValue(t, collect(t, reader), "ander.sessions.active"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_IsShared(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
