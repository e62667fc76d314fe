// Package eventstore persists Saga headers and the SagaEvent write-ahead
// log behind a minimal insert/select/update contract, schema-sensitive
// so the same orchestrator code works against relational engines with
// different table shapes (§4.4.6).
package eventstore

import (
	"encoding/json"
	"time"
)

// EventStatus is a SagaEvent's lifecycle state.
type EventStatus string

const (
	EventPending     EventStatus = "Pending"
	EventSuccess     EventStatus = "Success"
	EventFail        EventStatus = "Fail"
	EventCompensated EventStatus = "Compensated"
	EventSkipped     EventStatus = "Skipped"
)

// SagaStatus is a Saga's overall lifecycle state.
type SagaStatus string

const (
	SagaCreated            SagaStatus = "Created"
	SagaRunning            SagaStatus = "Running"
	SagaCompleted          SagaStatus = "Completed"
	SagaFailed             SagaStatus = "Failed"
	SagaCompensating       SagaStatus = "Compensating"
	SagaCompensated        SagaStatus = "Compensated"
	SagaCompensationFailed SagaStatus = "CompensationFailed"
	SagaAborted            SagaStatus = "Aborted"
)

// EventRecord is one SagaEvent WAL row.
type EventRecord struct {
	EventID         string
	SagaID          string
	TraceID         string
	StepID          string
	StepIndex       int
	Status          EventStatus
	Attempt         int
	StartedAt       time.Time
	DurationMs      int64
	Error           string
	PayloadSnapshot json.RawMessage

	// IdempotencyKey, when set, lets a step dedupe against a Success
	// event from an entirely different saga execution (§4.4.2 step 2),
	// distinct from the same-saga resume check that keys on step_index.
	IdempotencyKey string
}

// SagaRecord is the Saga header row.
type SagaRecord struct {
	SagaID        string
	Name          string
	TraceID       string
	Status        SagaStatus
	StepsJSON     json.RawMessage // serialized []StepSpec, opaque to the store
	CreatedAt     time.Time
	UpdatedAt     time.Time
	OwnerToken    string
	LockExpiresAt time.Time
}
