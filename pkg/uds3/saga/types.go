// Package saga drives ordered, multi-backend mutations through a
// write-ahead event log: each step is durably marked Pending before
// dispatch, classified Success/Fail/Skipped after, and a failed Saga is
// unwound by invoking compensation handlers in reverse order.
//
// Durable state lives entirely in an eventstore.Store; the Orchestrator
// itself holds no Saga state across calls, so any number of orchestrator
// instances can drive the same saga_id (serialized by the store's
// row-level lock).
package saga

import (
	"context"
	"time"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/backend"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/eventstore"
)

// Status mirrors eventstore.SagaStatus; kept as a local alias so callers
// never need to import eventstore just to compare a Saga's status.
type Status = eventstore.SagaStatus

// Saga status values, re-exported from eventstore for caller convenience.
const (
	StatusCreated            = eventstore.SagaCreated
	StatusRunning            = eventstore.SagaRunning
	StatusCompleted          = eventstore.SagaCompleted
	StatusFailed             = eventstore.SagaFailed
	StatusCompensating       = eventstore.SagaCompensating
	StatusCompensated        = eventstore.SagaCompensated
	StatusCompensationFailed = eventstore.SagaCompensationFailed
	StatusAborted            = eventstore.SagaAborted
)

// RetryPolicy configures backoff for a single StepSpec's Transient
// failures. Zero values fall back to sane defaults at execution time.
type RetryPolicy struct {
	MaxRetries        int
	BackoffInitialMs  int
	BackoffMultiplier float64
	MaxBackoffMs      int
}

// StepSpec is one unit of a Saga: a single backend operation plus its
// retry policy and optional compensation/idempotency metadata.
type StepSpec struct {
	StepID           string
	BackendKind      backend.Kind
	Operation        string
	Payload          map[string]any
	CompensationName string
	IdempotencyKey   string
	RetryPolicy      RetryPolicy
	Timeout          time.Duration
}

// CompensationHandler undoes the effect of a previously successful
// StepSpec. Handlers MUST be idempotent: a second invocation against an
// already-undone target must report success, not an error.
type CompensationHandler func(ctx context.Context, manager *backend.Manager, payload map[string]any) error

// Result is returned by Execute/Resume: the Saga's final status plus its
// full event trail, so callers never need a separate ListEvents call to
// find out what happened.
type Result struct {
	SagaID string
	Status Status
	Events []eventstore.EventRecord
}

func isDeleteOperation(operation string) bool {
	switch operation {
	case "delete", "delete_node", "delete_chunks", "delete_edge":
		return true
	default:
		return false
	}
}

func estimatePayloadSize(payload map[string]any) int {
	size := 0
	for k, v := range payload {
		size += len(k)
		switch val := v.(type) {
		case string:
			size += len(val)
		case []byte:
			size += len(val)
		default:
			size += 8
		}
	}
	return size
}
