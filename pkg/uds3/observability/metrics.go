package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records metrics for the saga orchestrator, the backend
// manager, the adaptive batch processor, and governance.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStepExecution records a single saga step execution.
	RecordStepExecution(ctx context.Context, backendKind, stepID string, duration time.Duration, err error)

	// RecordSagaRun records a saga run completion (success, failure, or
	// abort).
	RecordSagaRun(ctx context.Context, success bool, duration time.Duration)

	// RecordCompensation records a compensation handler invocation.
	RecordCompensation(ctx context.Context, stepID string, success bool)

	// RecordBatchFlush records an adaptive batch processor flush.
	RecordBatchFlush(ctx context.Context, backendKind string, batchSize int, duration time.Duration, err error)

	// RecordQueueDepth records the adaptive batch processor's current
	// queue depth, for backpressure observability.
	RecordQueueDepth(ctx context.Context, depth int64)

	// RecordGovernanceDenial records a policy rejection.
	RecordGovernanceDenial(ctx context.Context, backendKind, operation string)

	// RecordBackendHealth records a backend health transition.
	RecordBackendHealth(ctx context.Context, backendKind, state string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	stepExecutions   metric.Int64Counter
	stepLatency      metric.Float64Histogram
	stepErrors       metric.Int64Counter
	sagaRuns         metric.Int64Counter
	sagaLatency      metric.Float64Histogram
	compensations    metric.Int64Counter
	batchFlushes     metric.Int64Counter
	batchSize        metric.Int64Histogram
	batchLatency     metric.Float64Histogram
	queueDepth       metric.Int64Histogram
	governanceDenies metric.Int64Counter
	backendHealth    metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("uds3")

	stepExecutions, err := meter.Int64Counter("uds3.step.executions",
		metric.WithDescription("Number of saga step executions"),
	)
	if err != nil {
		return nil, err
	}

	stepLatency, err := meter.Float64Histogram("uds3.step.latency_ms",
		metric.WithDescription("Saga step execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stepErrors, err := meter.Int64Counter("uds3.step.errors",
		metric.WithDescription("Number of saga step execution errors"),
	)
	if err != nil {
		return nil, err
	}

	sagaRuns, err := meter.Int64Counter("uds3.saga.runs",
		metric.WithDescription("Number of saga runs"),
	)
	if err != nil {
		return nil, err
	}

	sagaLatency, err := meter.Float64Histogram("uds3.saga.latency_ms",
		metric.WithDescription("Saga run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	compensations, err := meter.Int64Counter("uds3.saga.compensations",
		metric.WithDescription("Number of compensation handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	batchFlushes, err := meter.Int64Counter("uds3.batch.flushes",
		metric.WithDescription("Number of adaptive batch flushes"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Histogram("uds3.batch.size",
		metric.WithDescription("Adaptive batch size at flush time"),
	)
	if err != nil {
		return nil, err
	}

	batchLatency, err := meter.Float64Histogram("uds3.batch.latency_ms",
		metric.WithDescription("Adaptive batch flush latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Histogram("uds3.batch.queue_depth",
		metric.WithDescription("Adaptive batch processor queue depth at submission time"),
	)
	if err != nil {
		return nil, err
	}

	governanceDenies, err := meter.Int64Counter("uds3.governance.denials",
		metric.WithDescription("Number of governance policy denials"),
	)
	if err != nil {
		return nil, err
	}

	backendHealth, err := meter.Int64Counter("uds3.backend.health_transitions",
		metric.WithDescription("Number of backend health state transitions"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stepExecutions:   stepExecutions,
		stepLatency:      stepLatency,
		stepErrors:       stepErrors,
		sagaRuns:         sagaRuns,
		sagaLatency:      sagaLatency,
		compensations:    compensations,
		batchFlushes:     batchFlushes,
		batchSize:        batchSize,
		batchLatency:     batchLatency,
		queueDepth:       queueDepth,
		governanceDenies: governanceDenies,
		backendHealth:    backendHealth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordStepExecution records a saga step execution.
func (m *otelMetrics) RecordStepExecution(ctx context.Context, backendKind, stepID string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("backend_kind", backendKind),
		attribute.String("step_id", stepID),
	}

	m.stepExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.stepErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordSagaRun records a saga run completion.
func (m *otelMetrics) RecordSagaRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.sagaRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.sagaLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordCompensation records a compensation handler invocation.
func (m *otelMetrics) RecordCompensation(ctx context.Context, stepID string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("step_id", stepID),
		attribute.Bool("success", success),
	}
	m.compensations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBatchFlush records an adaptive batch flush.
func (m *otelMetrics) RecordBatchFlush(ctx context.Context, backendKind string, batchSize int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("backend_kind", backendKind),
		attribute.Bool("success", err == nil),
	}
	m.batchFlushes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.batchSize.Record(ctx, int64(batchSize), metric.WithAttributes(attrs...))
	m.batchLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordQueueDepth records the batch processor's queue depth.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, depth int64) {
	m.queueDepth.Record(ctx, depth)
}

// RecordGovernanceDenial records a policy rejection.
func (m *otelMetrics) RecordGovernanceDenial(ctx context.Context, backendKind, operation string) {
	attrs := []attribute.KeyValue{
		attribute.String("backend_kind", backendKind),
		attribute.String("operation", operation),
	}
	m.governanceDenies.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBackendHealth records a backend health state transition.
func (m *otelMetrics) RecordBackendHealth(ctx context.Context, backendKind, state string) {
	attrs := []attribute.KeyValue{
		attribute.String("backend_kind", backendKind),
		attribute.String("state", state),
	}
	m.backendHealth.Add(ctx, 1, metric.WithAttributes(attrs...))
}
