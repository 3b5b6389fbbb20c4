package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/ander"

// Span attribute keys set on spans started inside a session scope.
const (
	AttrOwner     = attribute.Key("ander.owner")
	AttrSessionID = attribute.Key("ander.session_id")
)

// Tracer returns the ander tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Scope identifies the voice session a context belongs to.
type Scope struct {
	Owner     string
	SessionID string
}

type scopeKey struct{}

// WithScope returns a copy of ctx carrying s. Spans started and loggers
// derived from the returned context are tagged with the owner and session.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the session scope stored in ctx.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// StartSpan starts a new span, tagged with the session scope of ctx when
// present. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if s, ok := ScopeFrom(ctx); ok {
		opts = append(opts, trace.WithAttributes(scopeAttrs(s)...))
	}
	return Tracer().Start(ctx, name, opts...)
}

func scopeAttrs(s Scope) []attribute.KeyValue {
	var kv []attribute.KeyValue
	if s.Owner != "" {
		kv = append(kv, AttrOwner.String(s.Owner))
	}
	if s.SessionID != "" {
		kv = append(kv, AttrSessionID.String(s.SessionID))
	}
	return kv
}

// CorrelationID identifies the work ctx belongs to: the trace ID when a
// recording span is present, else the session ID, else "". The API echoes
// it in the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if s, ok := ScopeFrom(ctx); ok {
		return s.SessionID
	}
	return ""
}

// Logger returns the default logger with the session scope and trace ids of
// ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if s, ok := ScopeFrom(ctx); ok {
		if s.Owner != "" {
			args = append(args, slog.String("owner", s.Owner))
		}
		if s.SessionID != "" {
			args = append(args, slog.String("session_id", s.SessionID))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
