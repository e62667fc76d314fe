package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics_ImplementsInterface(t *testing.T) {
	var _ MetricsRecorder = NoopMetrics{}
}

func TestNoopMetrics_RecordStepExecution(t *testing.T) {
	m := NoopMetrics{}

	t.Run("does not panic with valid args", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordStepExecution(context.Background(), "vector", "step", 100*time.Millisecond, nil)
		})
	})

	t.Run("does not panic with error", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordStepExecution(context.Background(), "vector", "step", 100*time.Millisecond, errors.New("test"))
		})
	})

	t.Run("does not panic with nil context", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordStepExecution(nil, "vector", "step", 0, nil)
		})
	})

	t.Run("does not panic with empty step ID", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordStepExecution(context.Background(), "vector", "", 0, nil)
		})
	})
}

func TestNoopMetrics_RecordSagaRun(t *testing.T) {
	m := NoopMetrics{}

	t.Run("does not panic with success=true", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordSagaRun(context.Background(), true, 500*time.Millisecond)
		})
	})

	t.Run("does not panic with success=false", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordSagaRun(context.Background(), false, 100*time.Millisecond)
		})
	})

	t.Run("does not panic with nil context", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordSagaRun(nil, true, 0)
		})
	})
}

func TestNoopMetrics_RecordCompensation(t *testing.T) {
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordCompensation(context.Background(), "step", true)
	})
}

func TestNoopMetrics_RecordBatchFlush(t *testing.T) {
	m := NoopMetrics{}

	t.Run("does not panic with valid args", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordBatchFlush(context.Background(), "vector", 128, 10*time.Millisecond, nil)
		})
	})

	t.Run("does not panic with zero size", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordBatchFlush(context.Background(), "vector", 0, 0, nil)
		})
	})

	t.Run("does not panic with nil context", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordBatchFlush(nil, "vector", 128, 0, nil)
		})
	})
}

func TestNoopMetrics_RecordQueueDepth(t *testing.T) {
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordQueueDepth(context.Background(), 42)
	})
}

func TestNoopMetrics_RecordGovernanceDenial(t *testing.T) {
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordGovernanceDenial(context.Background(), "vector", "delete")
	})
}

func TestNoopMetrics_RecordBackendHealth(t *testing.T) {
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordBackendHealth(context.Background(), "vector", "degraded")
	})
}

func TestNoopSpanManager_ImplementsInterface(t *testing.T) {
	var _ SpanManager = NoopSpanManager{}
}

func TestNoopSpanManager_StartSagaSpan(t *testing.T) {
	sm := NoopSpanManager{}

	t.Run("returns same context", func(t *testing.T) {
		ctx := context.Background()
		newCtx, span := sm.StartSagaSpan(ctx, "order-fulfillment", "saga-1")

		assert.Equal(t, ctx, newCtx, "Context should be unchanged")
		assert.NotNil(t, span, "Span should not be nil")
	})

	t.Run("span is valid noop span", func(t *testing.T) {
		ctx := context.Background()
		_, span := sm.StartSagaSpan(ctx, "order-fulfillment", "saga-1")

		assert.False(t, span.IsRecording())
	})

	t.Run("does not panic with empty args", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.StartSagaSpan(context.Background(), "", "")
		})
	})
}

func TestNoopSpanManager_StartStepSpan(t *testing.T) {
	sm := NoopSpanManager{}

	t.Run("returns same context", func(t *testing.T) {
		ctx := context.Background()
		newCtx, span := sm.StartStepSpan(ctx, "upsert")

		assert.Equal(t, ctx, newCtx, "Context should be unchanged")
		assert.NotNil(t, span, "Span should not be nil")
	})

	t.Run("span is valid noop span", func(t *testing.T) {
		ctx := context.Background()
		_, span := sm.StartStepSpan(ctx, "upsert")

		assert.False(t, span.IsRecording())
	})

	t.Run("does not panic with empty step ID", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.StartStepSpan(context.Background(), "")
		})
	})
}

func TestNoopSpanManager_EndSpanWithError(t *testing.T) {
	sm := NoopSpanManager{}

	t.Run("does not panic with nil span", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(nil, nil)
		})
	})

	t.Run("does not panic with nil error", func(t *testing.T) {
		_, span := sm.StartSagaSpan(context.Background(), "d", "s")
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(span, nil)
		})
	})

	t.Run("does not panic with error", func(t *testing.T) {
		_, span := sm.StartSagaSpan(context.Background(), "d", "s")
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(span, errors.New("test error"))
		})
	})
}

func TestNoopSpanManager_AddSpanEvent(t *testing.T) {
	sm := NoopSpanManager{}

	t.Run("does not panic with valid args", func(t *testing.T) {
		ctx := context.Background()
		assert.NotPanics(t, func() {
			sm.AddSpanEvent(ctx, "test_event", attribute.String("key", "value"))
		})
	})

	t.Run("does not panic with no attributes", func(t *testing.T) {
		ctx := context.Background()
		assert.NotPanics(t, func() {
			sm.AddSpanEvent(ctx, "test_event")
		})
	})

	t.Run("does not panic with nil context", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.AddSpanEvent(nil, "test_event")
		})
	})

	t.Run("does not panic with empty event name", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.AddSpanEvent(context.Background(), "")
		})
	})
}

func TestNoopImplementations_NoSideEffects(t *testing.T) {
	// Verifies that noop implementations can be used in a realistic
	// scenario without any side effects.

	metrics := NoopMetrics{}
	spans := NoopSpanManager{}

	ctx := context.Background()

	ctx, sagaSpan := spans.StartSagaSpan(ctx, "order-fulfillment", "saga-123")

	for i, stepID := range []string{"reserve-funds", "upsert-vector", "write-audit"} {
		ctx, stepSpan := spans.StartStepSpan(ctx, stepID)

		start := time.Now()
		time.Sleep(1 * time.Millisecond)
		duration := time.Since(start)

		var err error
		if i == 1 {
			err = errors.New("simulated error")
		}

		metrics.RecordStepExecution(ctx, "vector", stepID, duration, err)

		if i == 2 {
			metrics.RecordQueueDepth(ctx, 0)
			spans.AddSpanEvent(ctx, "event_appended", attribute.Int64("size_bytes", 512))
		}

		spans.EndSpanWithError(stepSpan, err)
	}

	metrics.RecordSagaRun(ctx, true, 100*time.Millisecond)
	spans.EndSpanWithError(sagaSpan, nil)
}
