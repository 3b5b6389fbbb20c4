package observe

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	tp      *sdktrace.TracerProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m, reader := newTestMetrics(t)
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return &harness{metrics: m, reader: reader, spans: exp, tp: tp}
}

func (h *harness) wrap(next http.Handler, opts ...MiddlewareOption) http.Handler {
	opts = append([]MiddlewareOption{WithTracerProvider(h.tp)}, opts...)
	return Middleware(h.metrics, opts...)(next)
}

// routeSamples sums the request duration sample count per route label.
func routeSamples(t *testing.T, rm metricdata.ResourceMetrics) map[string]uint64 {
	t.Helper()
	met := findMetric(rm, "ander.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want histogram", met.Data)
	}
	out := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		out[route.AsString()] += dp.Count
	}
	return out
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	t.Parallel()

	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{name: "propagated", traceparent: "00-" + incoming + "-00f067aa0ba902b7-01", want: incoming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			var inHandler string
			srv := h.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inHandler = CorrelationID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/commands", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Correlation-ID")
			if len(got) != 32 || got != inHandler {
				t.Errorf("header = %q, handler saw %q", got, inHandler)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("header = %q, want %q", got, tt.want)
			}
			if rec.Header().Get("traceparent") == "" {
				t.Error("trace context not injected into the response")
			}
		})
	}
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/rooms/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := h.wrap(mux)
	for _, path := range []string{"/v1/rooms/kitchen", "/v1/rooms/garage", "/nowhere"} {
		srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	samples := routeSamples(t, collect(t, h.reader))
	if samples["GET /v1/rooms/{id}"] != 2 || samples[unmatchedRoute] != 1 || len(samples) != 2 {
		t.Errorf("samples by route = %v", samples)
	}

	names := make(map[string]int)
	for _, s := range h.spans.GetSpans() {
		names[s.Name]++
	}
	if names["GET /v1/rooms/{id}"] != 2 || names["HTTP GET"] != 1 {
		t.Errorf("span names = %v", names)
	}
}

func TestMiddleware_SpanCarriesStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	srv := h.wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such owner", http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/commands/x", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := h.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("span status attribute = %d", status)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		quiet  bool
		want   slog.Level
	}{
		{http.StatusOK, false, slog.LevelInfo},
		{http.StatusOK, true, slog.LevelDebug},
		{http.StatusNotFound, true, slog.LevelWarn},
		{http.StatusServiceUnavailable, true, slog.LevelError},
	}
	for _, tt := range tests {
		if got := logLevel(tt.status, tt.quiet); got != tt.want {
			t.Errorf("logLevel(%d, %v) = %v, want %v", tt.status, tt.quiet, got, tt.want)
		}
	}
	if got := statusClass(http.StatusTooManyRequests); got != "4xx" {
		t.Errorf("statusClass(429) = %q", got)
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestMiddleware_WebsocketUpgradePassesThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	srv := h.wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, _, err := http.NewResponseController(w).Hijack(); err != nil {
			t.Errorf("Hijack: %v", err)
		}
	}))
	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))

	if !rec.hijacked {
		t.Fatal("underlying writer was not hijacked")
	}
	for _, a := range h.spans.GetSpans()[0].Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() != http.StatusSwitchingProtocols {
			t.Errorf("status = %d, want 101", a.Value.AsInt64())
		}
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var hijackErr error
	srv := h.wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _, hijackErr = w.(http.Hijacker).Hijack()
	}))
	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/events", nil))

	if hijackErr == nil {
		t.Error("plain recorder was hijacked")
	}
}
