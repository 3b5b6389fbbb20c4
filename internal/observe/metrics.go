// Package observe carries metrics, tracing and scoped logging for ander.
//
// Instruments are created on a [metric.MeterProvider], normally the one of
// a [Telemetry] built by [InitProvider], which exposes them in Prometheus
// format. [DefaultMetrics] records on the global provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ander metrics.
const meterName = "github.com/MrWong99/ander"

// Metrics groups the instruments recorded by sessions, dispatch and the
// HTTP layer. Instruments are safe for concurrent use.
type Metrics struct {
	// Stage latencies in seconds.
	CaptureDuration  metric.Float64Histogram // trigger to final transcript
	MatchDuration    metric.Float64Histogram // correction plus matching
	DispatchDuration metric.Float64Histogram // command execution
	SpeechDuration   metric.Float64Histogram // response playback

	Sessions       metric.Int64Counter // attr: outcome
	Dispatches     metric.Int64Counter // attr: reason
	ProviderErrors metric.Int64Counter // attrs: provider, kind

	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware] with method, route
	// and status_class.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for a voice
// session that may wait several seconds for speech.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.CaptureDuration, "ander.capture.duration", "Latency from trigger to final transcript."},
		{&met.MatchDuration, "ander.match.duration", "Latency of transcript correction and command matching."},
		{&met.DispatchDuration, "ander.dispatch.duration", "Latency of command execution."},
		{&met.SpeechDuration, "ander.speech.duration", "Duration of response playback."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Sessions, "ander.sessions.total", "Finished voice sessions by outcome."},
		{&met.Dispatches, "ander.dispatch.total", "Dispatch results by reason."},
		{&met.ProviderErrors, "ander.provider.errors", "Provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("ander.sessions.active",
		metric.WithDescription("Voice sessions currently in flight."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("ander.http.request.duration",
		metric.WithDescription("HTTP request latency by route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSession counts one finished session with the given outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordDispatch counts one dispatch result. Successful results use the
// reason "ok".
func (m *Metrics) RecordDispatch(ctx context.Context, reason string) {
	if reason == "" {
		reason = "ok"
	}
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordProviderError counts one failure of the named provider.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}
