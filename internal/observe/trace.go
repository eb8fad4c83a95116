package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/faryalgulzar-sudo/livekit-real-time-agents"

// Span attribute keys.
const (
	AttrCallID       = attribute.Key("intake.call_id")
	AttrPhase        = attribute.Key("intake.phase")
	AttrOutcome      = attribute.Key("intake.outcome")
	AttrCollaborator = attribute.Key("intake.collaborator")
)

// StartSpan starts a span on the global tracer provider. The caller ends it,
// usually through [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartTurn starts the span covering one caller utterance in phase.
func StartTurn(ctx context.Context, callID, phase string) (context.Context, trace.Span) {
	return StartSpan(ctx, "intake.turn", trace.WithAttributes(
		AttrCallID.String(callID),
		AttrPhase.String(phase),
	))
}

// EndSpan marks span failed when err is non-nil, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace ID carried by ctx, or "" outside a trace.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is slog.Default with trace_id and span_id attached when ctx is
// traced.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// TimeCollaborator runs fn inside a "<collaborator>.<op>" span and records
// its latency and outcome on m, which may be nil.
func TimeCollaborator(ctx context.Context, m *Metrics, collaborator, op string, fn func(context.Context) error) (err error) {
	ctx, span := StartSpan(ctx, collaborator+"."+op, trace.WithAttributes(AttrCollaborator.String(collaborator)))
	defer func() { EndSpan(span, err) }()

	start := time.Now()
	err = fn(ctx)
	if m != nil {
		m.RecordCollaborator(ctx, collaborator, op, time.Since(start).Seconds(), err)
	}
	return err
}
