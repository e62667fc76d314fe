package batchrecovery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Version is the current recovery entry format version.
// Increment when making breaking changes to the entry structure.
const Version = 1

// Entry is the persisted snapshot of one batch item whose flush failed
// after exhausting its retries. It contains everything needed to replay
// the item into a fresh batch.
type Entry struct {
	Version   int       `json:"version"`
	BatcherID string    `json:"batcher_id"`
	Digest    string    `json:"digest"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// Marshal serializes an entry to JSON.
func (e *Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes an entry from JSON.
func Unmarshal(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// New creates a new recovery entry. payload must already be
// JSON-serialized.
func New(batcherID, digest string, sequence int, payload []byte) *Entry {
	return &Entry{
		Version:   Version,
		BatcherID: batcherID,
		Digest:    digest,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Attempt:   1,
	}
}

// WithAttempt sets the attempt number for retry tracking.
func (e *Entry) WithAttempt(attempt int) *Entry {
	e.Attempt = attempt
	return e
}

// Digest returns the content-addressed key used to dedupe and locate a
// pending item in the recovery log: the hex-encoded SHA-256 of its
// serialized payload.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
