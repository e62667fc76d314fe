package eventstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("eventstore: saga not found")
	ErrStoreClosed  = errors.New("eventstore: store closed")
	ErrLockHeld     = errors.New("eventstore: lock held by another owner")
	ErrCorruptEvent = errors.New("eventstore: corrupt event log")
)

// Store is the minimal insert/select/update contract the Saga
// Orchestrator treats the event store as (§3 Ownership). Every writer
// goes through AppendEvent; the core never runs DDL here (§5
// shared-resource policy) — CREATE TABLE happens once at construction.
type Store interface {
	// CreateSaga persists the Saga header, status Created. Returns
	// ErrNotFound's sibling (a plain error) on a duplicate saga_id.
	CreateSaga(ctx context.Context, saga SagaRecord) error

	// GetSaga returns the current Saga header, or ErrNotFound.
	GetSaga(ctx context.Context, sagaID string) (SagaRecord, error)

	// UpdateSagaStatus sets status and updated_at for an existing Saga.
	UpdateSagaStatus(ctx context.Context, sagaID string, status SagaStatus, updatedAt time.Time) error

	// TryAcquireLock performs the row-level CAS of §4.4.5: it succeeds
	// only if the saga is unlocked, its lease has already expired, or
	// ownerToken already holds the lock.
	TryAcquireLock(ctx context.Context, sagaID, ownerToken string, leaseTTL time.Duration) (bool, error)

	// RenewLock extends lock_expires_at for the current owner only.
	RenewLock(ctx context.Context, sagaID, ownerToken string, leaseTTL time.Duration) (bool, error)

	// ReleaseLock clears owner_token/lock_expires_at if ownerToken
	// still matches; it is a no-op (not an error) otherwise.
	ReleaseLock(ctx context.Context, sagaID, ownerToken string) error

	// AppendEvent durably writes one SagaEvent through the
	// schema-sensitive safe-insert path (§4.4.6) and returns its
	// generated event_id.
	AppendEvent(ctx context.Context, event EventRecord) (string, error)

	// ListEvents returns every event for sagaID ordered by
	// (step_index, attempt), matching the crash-recovery read order
	// (§4.4.4 step 1).
	ListEvents(ctx context.Context, sagaID string) ([]EventRecord, error)

	// FindTerminalByIdempotencyKey returns the most recent Success event
	// carrying key, across every saga, or ok=false if none exists. This
	// is the cross-execution half of the idempotency-key boundary
	// (§4.4.2 step 2); the same-saga resume check stays in ListEvents.
	FindTerminalByIdempotencyKey(ctx context.Context, key string) (rec EventRecord, ok bool, err error)

	// ListOpenSagas returns sagas whose status is not terminal
	// (Completed/Compensated/CompensationFailed/Aborted) and whose
	// updated_at is older than olderThan — used by `saga resume-open`.
	ListOpenSagas(ctx context.Context, olderThan time.Time) ([]SagaRecord, error)

	Close() error
}
