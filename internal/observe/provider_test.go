package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitProvider_Resource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name        string
		cfg         ProviderConfig
		wantService string
	}{
		{"named", ProviderConfig{ServiceName: "ander-edge", ServiceVersion: "0.4.0"}, "ander-edge"},
		{"default name", ProviderConfig{}, "ander"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.cfg.Registry = prometheus.NewRegistry()
			tel, err := InitProvider(ctx, tt.cfg)
			if err != nil {
				t.Fatalf("InitProvider: %v", err)
			}
			t.Cleanup(func() { _ = tel.Shutdown(ctx) })

			set := tel.Resource().Set()
			if v, ok := set.Value(attribute.Key("service.name")); !ok || v.AsString() != tt.wantService {
				t.Errorf("service.name = %q, want %q", v.AsString(), tt.wantService)
			}
			if _, ok := set.Value(attribute.Key("telemetry.sdk.language")); !ok {
				t.Error("SDK default attributes were dropped")
			}
			if tel.Resource().SchemaURL() == "" {
				t.Error("schema URL of the SDK defaults was lost")
			}
		})
	}
}

func TestInitProvider_ServesRecordedMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tel, err := InitProvider(ctx, ProviderConfig{
		ServiceName:    "ander-test",
		ServiceVersion: "1.2.3",
		Registry:       prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	m, err := NewMetrics(tel.MeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordSession(ctx, "executed")
	m.RecordDispatch(ctx, "device_not_found")

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"ander_sessions", `outcome="executed"`, `reason="device_not_found"`, `service_name="ander-test"`} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestInitProvider_PrivateRegistriesAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first, err := InitProvider(ctx, ProviderConfig{Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatal(err)
	}
	second, err := InitProvider(ctx, ProviderConfig{Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = first.Shutdown(ctx)
		_ = second.Shutdown(ctx)
	})

	m, err := NewMetrics(first.MeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	m.RecordProviderError(ctx, "deepgram", "stt")

	rec := httptest.NewRecorder()
	second.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rec.Body.String(), "deepgram") {
		t.Error("metrics recorded on one telemetry leaked into another")
	}
}
