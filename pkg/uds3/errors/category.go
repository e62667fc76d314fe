// Package errors provides the error taxonomy shared by governance, the
// backend manager, the adaptive batch processor, and the saga
// orchestrator, plus retry-with-backoff built on top of it.
//
// The package implements a layered approach:
//   - Classification: attach one of a closed set of Kinds to every error
//     the core produces or wraps, so callers can react structurally
//     instead of string-matching messages.
//   - Retry: handle transient failures with exponential backoff and
//     jitter, driven by a Kind's retryability.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch by governance, the backend
// manager, the batcher, and the saga orchestrator. It is a closed set:
// every error the core returns carries exactly one Kind.
type Kind int

const (
	// KindTransient indicates the same call will likely succeed if
	// retried: network blips, connection resets, rate limiting.
	KindTransient Kind = iota

	// KindPermanent indicates retrying will never help: malformed
	// payload, programmer error, unsupported operation.
	KindPermanent

	// KindConflict indicates an optimistic concurrency or uniqueness
	// violation at a backend (e.g. duplicate key on a non-idempotent
	// insert).
	KindConflict

	// KindNotFound indicates the target of an operation does not exist.
	KindNotFound

	// KindPolicyDenied indicates a governance policy rejected the
	// operation before it reached a backend.
	KindPolicyDenied

	// KindNoBackend indicates no backend instance is registered for the
	// requested BackendKind.
	KindNoBackend

	// KindUnavailable indicates a backend is registered but not in a
	// dispatchable state (anything other than Healthy or Degraded, e.g.
	// Initializing, Error, or Offline).
	KindUnavailable

	// KindQueueFull indicates the adaptive batch processor's queue is at
	// or above its high watermark and the submission was rejected.
	KindQueueFull

	// KindLockLost indicates the caller's saga lock/lease was not held
	// or had already expired and been reassigned.
	KindLockLost

	// KindCompensationFailed indicates a compensation handler itself
	// failed while unwinding a saga; the saga is left in a state
	// requiring operator attention.
	KindCompensationFailed

	// KindCorruptEventLog indicates a saga's persisted record could not
	// be decoded on read: the Orchestrator raises it when a saga's stored
	// step list fails to unmarshal. The event sequence itself is not
	// checked for gaps or for events following a terminal event.
	KindCorruptEventLog
)

// String returns the kind's wire/log name.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindPolicyDenied:
		return "policy_denied"
	case KindNoBackend:
		return "no_backend"
	case KindUnavailable:
		return "unavailable"
	case KindQueueFull:
		return "queue_full"
	case KindLockLost:
		return "lock_lost"
	case KindCompensationFailed:
		return "compensation_failed"
	case KindCorruptEventLog:
		return "corrupt_event_log"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind and optional context.
type Error struct {
	// Err is the underlying error, if any.
	Err error

	// Kind classifies how this error should be handled.
	Kind Kind

	// Retries is the number of attempts that had already been made when
	// this error was produced.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (kind: %s, attempts: %d)", e.Context, e.Err, e.Kind, e.Retries)
	}
	return fmt.Sprintf("%s (kind: %s, attempts: %d)", e.Err, e.Kind, e.Retries)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new classified error.
func New(kind Kind, err error, context string) *Error {
	return &Error{Err: err, Kind: kind, Context: context}
}

// Transient creates a KindTransient error.
func Transient(err error, context string) *Error {
	return New(KindTransient, err, context)
}

// Permanent creates a KindPermanent error.
func Permanent(err error, context string) *Error {
	return New(KindPermanent, err, context)
}

// Conflict creates a KindConflict error.
func Conflict(err error, context string) *Error {
	return New(KindConflict, err, context)
}

// NotFound creates a KindNotFound error.
func NotFound(err error, context string) *Error {
	return New(KindNotFound, err, context)
}

// PolicyDenied creates a KindPolicyDenied error.
func PolicyDenied(err error, context string) *Error {
	return New(KindPolicyDenied, err, context)
}

// NoBackend creates a KindNoBackend error.
func NoBackend(err error, context string) *Error {
	return New(KindNoBackend, err, context)
}

// Unavailable creates a KindUnavailable error.
func Unavailable(err error, context string) *Error {
	return New(KindUnavailable, err, context)
}

// QueueFull creates a KindQueueFull error.
func QueueFull(err error, context string) *Error {
	return New(KindQueueFull, err, context)
}

// LockLost creates a KindLockLost error.
func LockLost(err error, context string) *Error {
	return New(KindLockLost, err, context)
}

// CompensationFailed creates a KindCompensationFailed error.
func CompensationFailed(err error, context string) *Error {
	return New(KindCompensationFailed, err, context)
}

// CorruptEventLog creates a KindCorruptEventLog error.
func CorruptEventLog(err error, context string) *Error {
	return New(KindCorruptEventLog, err, context)
}

// Categorize determines the Kind of an arbitrary error. Errors that are
// already *Error pass their Kind through unchanged; everything else is
// inspected for known concrete types and otherwise treated as permanent
// (fail safe — an uncategorized error must not be silently retried
// forever).
func Categorize(err error) Kind {
	if err == nil {
		return KindPermanent
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return KindTransient
	}

	var lockErr *LockError
	if errors.As(err, &lockErr) {
		return KindLockLost
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return KindPermanent
	}

	return KindPermanent
}

// IsRetryable reports whether the error's Kind is one where the same
// operation, retried unchanged, has a reasonable chance of succeeding:
// transient backend faults, a momentarily unavailable backend, or
// batcher backpressure that will drain on its own.
func IsRetryable(err error) bool {
	switch Categorize(err) {
	case KindTransient, KindUnavailable, KindQueueFull:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the error's Kind can never succeed by
// retrying: a denied policy, a missing target, a conflicting write, or a
// lost lock all require a decision, not a retry.
func IsTerminal(err error) bool {
	return !IsRetryable(err)
}
