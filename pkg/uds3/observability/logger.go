// Package observability provides production-grade observability features
// for the orchestrator core: structured logging, metrics, and
// distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds saga context to a logger.
// Returns a new logger with saga_id, step_id, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "saga-123", "upsert-vector", 1)
//	enriched.Info("executing step") // includes saga_id, step_id, attempt
func EnrichLogger(logger *slog.Logger, sagaID, stepID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("saga_id", sagaID),
		slog.String("step_id", stepID),
		slog.Int("attempt", attempt),
	)
}

// LogSagaStart logs the start of a saga execution.
func LogSagaStart(logger *slog.Logger, sagaID, definition string) {
	if logger == nil {
		return
	}
	logger.Info("saga starting",
		slog.String("saga_id", sagaID),
		slog.String("definition", definition),
	)
}

// LogSagaComplete logs successful saga completion.
func LogSagaComplete(logger *slog.Logger, sagaID string, durationMs float64, stepCount int) {
	if logger == nil {
		return
	}
	logger.Info("saga completed",
		slog.String("saga_id", sagaID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps_executed", stepCount),
	)
}

// LogSagaError logs saga failure.
func LogSagaError(logger *slog.Logger, sagaID string, err error, durationMs float64, lastStep string) {
	if logger == nil {
		return
	}
	logger.Error("saga failed",
		slog.String("saga_id", sagaID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_step", lastStep),
	)
}

// LogStepStart logs step execution start.
func LogStepStart(logger *slog.Logger, stepID string) {
	if logger == nil {
		return
	}
	logger.Debug("step starting",
		slog.String("step_id", stepID),
	)
}

// LogStepComplete logs successful step completion.
func LogStepComplete(logger *slog.Logger, stepID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("step completed",
		slog.String("step_id", stepID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStepError logs step execution error.
func LogStepError(logger *slog.Logger, stepID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("step failed",
		slog.String("step_id", stepID),
		slog.String("error", err.Error()),
	)
}

// LogCompensation logs a compensation handler invocation.
func LogCompensation(logger *slog.Logger, sagaID, stepID string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Error("compensation failed",
			slog.String("saga_id", sagaID),
			slog.String("step_id", stepID),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("compensation applied",
		slog.String("saga_id", sagaID),
		slog.String("step_id", stepID),
	)
}

// LogEventAppend logs a saga event written to the event store.
func LogEventAppend(logger *slog.Logger, sagaID, eventType string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("event appended",
		slog.String("saga_id", sagaID),
		slog.String("event_type", eventType),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogEventAppendError logs a failure to append a saga event (non-fatal
// only when the caller has an alternative durability path; otherwise
// this precedes an abort).
func LogEventAppendError(logger *slog.Logger, sagaID, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event append failed",
		slog.String("saga_id", sagaID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
