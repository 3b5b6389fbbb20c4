package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported in telemetry. Default: "ander".
	ServiceName string

	// ServiceVersion is reported in telemetry.
	ServiceVersion string

	// Registry receives the Prometheus collectors. When nil the default
	// Prometheus registry is used. [Telemetry.Handler] serves it either way.
	Registry *prometheus.Registry

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded for correlation but never exported.
	TraceExporter sdktrace.SpanExporter

	// Global installs the providers as the otel globals and sets the W3C
	// trace context propagator.
	Global bool
}

// Telemetry owns the SDK providers created by [InitProvider].
type Telemetry struct {
	mp       *sdkmetric.MeterProvider
	tp       *sdktrace.TracerProvider
	res      *resource.Resource
	gatherer prometheus.Gatherer
}

// InitProvider builds meter and tracer providers for cfg. Metrics are read
// by a Prometheus exporter; [Telemetry.Handler] serves them.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ander"
	}

	// The service attributes are schemaless so they merge with whatever
	// schema the SDK defaults carry.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: telemetry resource: %w", err)
	}

	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if cfg.Registry != nil {
		reg, gatherer = cfg.Registry, cfg.Registry
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	t := &Telemetry{
		mp:       sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)),
		tp:       sdktrace.NewTracerProvider(tpOpts...),
		res:      res,
		gatherer: gatherer,
	}
	if cfg.Global {
		otel.SetMeterProvider(t.mp)
		otel.SetTracerProvider(t.tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	}
	return t, nil
}

// MeterProvider returns the SDK meter provider, for [NewMetrics].
func (t *Telemetry) MeterProvider() *sdkmetric.MeterProvider { return t.mp }

// TracerProvider returns the SDK tracer provider.
func (t *Telemetry) TracerProvider() *sdktrace.TracerProvider { return t.tp }

// Resource returns the resource attached to every metric and span.
func (t *Telemetry) Resource() *resource.Resource { return t.res }

// Handler serves the Prometheus exposition of every recorded metric.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// Shutdown flushes and closes both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.mp.Shutdown(ctx), t.tp.Shutdown(ctx))
}
