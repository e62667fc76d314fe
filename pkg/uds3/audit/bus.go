package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Bus receives every governance denial and saga compensation-failure
// record the core publishes. Nothing in this module subscribes to it —
// an embedding process forwards from LocalBus.Recent, or wraps Bus with
// its own sink (a metrics exporter, an audit log table) — so Bus stays a
// plain append, not a pub/sub fan-out.
type Bus interface {
	// Publish appends evt to the audit trail.
	Publish(ctx context.Context, evt Event) error

	// Close releases the bus. Safe to call more than once.
	Close() error
}

// BusConfig configures a LocalBus.
type BusConfig struct {
	// Capacity bounds how many recent records LocalBus retains in
	// memory. Default: 256.
	Capacity int

	// Logger receives one structured log line per published record.
	// Default: slog.Default().
	Logger *slog.Logger
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{Capacity: 256}

// LocalBus is an in-memory Bus: every published record is logged and
// retained in a capped ring buffer so operators and tests can inspect
// the recent audit trail without wiring an external sink.
type LocalBus struct {
	mu      sync.Mutex
	cap     int
	records []Event
	closed  bool
	logger  *slog.Logger
}

// NewBus creates a LocalBus.
func NewBus(config BusConfig) *LocalBus {
	if config.Capacity <= 0 {
		config.Capacity = DefaultBusConfig.Capacity
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBus{cap: config.Capacity, logger: logger}
}

// Publish implements Bus.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &EventError{Event: evt, Message: "bus is closed"}
	}

	b.records = append(b.records, evt)
	if len(b.records) > b.cap {
		b.records = b.records[len(b.records)-b.cap:]
	}

	b.logger.Info("audit record published",
		slog.String("event_id", evt.ID()),
		slog.String("type", evt.Type()),
		slog.String("source", evt.Source()),
		slog.String("correlation_id", evt.CorrelationID()))
	return nil
}

// Recent returns up to n of the most recently published records, oldest
// first. n <= 0 returns everything retained.
func (b *LocalBus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.records) {
		n = len(b.records)
	}
	out := make([]Event, n)
	copy(out, b.records[len(b.records)-n:])
	return out
}

// Close implements Bus.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
