package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordStepExecution does nothing.
func (NoopMetrics) RecordStepExecution(_ context.Context, _, _ string, _ time.Duration, _ error) {}

// RecordSagaRun does nothing.
func (NoopMetrics) RecordSagaRun(_ context.Context, _ bool, _ time.Duration) {}

// RecordCompensation does nothing.
func (NoopMetrics) RecordCompensation(_ context.Context, _ string, _ bool) {}

// RecordBatchFlush does nothing.
func (NoopMetrics) RecordBatchFlush(_ context.Context, _ string, _ int, _ time.Duration, _ error) {}

// RecordQueueDepth does nothing.
func (NoopMetrics) RecordQueueDepth(_ context.Context, _ int64) {}

// RecordGovernanceDenial does nothing.
func (NoopMetrics) RecordGovernanceDenial(_ context.Context, _, _ string) {}

// RecordBackendHealth does nothing.
func (NoopMetrics) RecordBackendHealth(_ context.Context, _, _ string) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
// We use the OTel noop package for a proper no-op span implementation.
var noopSpan = noop.Span{}

// StartSagaSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartSagaSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStepSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartStepSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
