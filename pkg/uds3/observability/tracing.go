package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the orchestrator's tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("uds3")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartSagaSpan starts a span for the entire saga execution.
	// Returns the context with span and the span itself.
	StartSagaSpan(ctx context.Context, definition, sagaID string) (context.Context, trace.Span)

	// StartStepSpan starts a span for a step execution.
	// The step span should be a child of the saga span.
	StartStepSpan(ctx context.Context, stepID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartSagaSpan starts a span for the entire saga execution.
func (m *otelSpanManager) StartSagaSpan(ctx context.Context, definition, sagaID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "uds3.saga",
		trace.WithAttributes(
			attribute.String("saga.definition", definition),
			attribute.String("saga.id", sagaID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStepSpan starts a span for a step execution.
func (m *otelSpanManager) StartStepSpan(ctx context.Context, stepID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "uds3.step."+stepID,
		trace.WithAttributes(
			attribute.String("step.id", stepID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Convenience functions that operate on the global tracer.
// These are useful for simple cases where you don't need the interface.

// StartSagaSpan starts a span for the entire saga execution.
// Uses the global OTel tracer.
func StartSagaSpan(ctx context.Context, definition, sagaID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "uds3.saga",
		trace.WithAttributes(
			attribute.String("saga.definition", definition),
			attribute.String("saga.id", sagaID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStepSpan starts a span for a step execution.
// Uses the global OTel tracer.
func StartStepSpan(ctx context.Context, stepID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "uds3.step."+stepID,
		trace.WithAttributes(
			attribute.String("step.id", stepID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
