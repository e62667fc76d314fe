package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteStore persists Saga headers and SagaEvents to SQLite. It is the
// default relational backend for the event store. It is not a
// backend.RelationalAdapter; the saga seed tests run against MemoryStore.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at
// path and ensures the uds3_sagas/uds3_saga_events schema exists. path
// may be ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if createErr == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Warn("failed to close event store file after creation",
						slog.String("path", path), slog.String("error", closeErr.Error()))
				}
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS uds3_sagas (
			saga_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			trace_id TEXT,
			status TEXT NOT NULL,
			steps_json BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			owner_token TEXT,
			lock_expires_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create uds3_sagas: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS uds3_saga_events (
			event_id TEXT PRIMARY KEY,
			saga_id TEXT NOT NULL,
			trace_id TEXT,
			step_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT,
			payload_snapshot BLOB,
			idempotency_key TEXT,
			extra BLOB
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create uds3_saga_events: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_uds3_saga_events_saga_id
		ON uds3_saga_events(saga_id, step_index, attempt)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_uds3_saga_events_idempotency_key
		ON uds3_saga_events(idempotency_key)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create idempotency key index: %w", err)
	}

	if path != ":memory:" {
		if err := os.Chmod(path, 0600); err != nil {
			slog.Warn("failed to set restrictive permissions on event store file",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSaga(ctx context.Context, saga SagaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uds3_sagas (saga_id, name, trace_id, status, steps_json, created_at, updated_at, owner_token, lock_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', 0)
	`, saga.SagaID, saga.Name, saga.TraceID, string(saga.Status), []byte(saga.StepsJSON),
		saga.CreatedAt.UTC().Format(time.RFC3339Nano), saga.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create saga: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSaga(ctx context.Context, sagaID string) (SagaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SagaRecord{}, ErrStoreClosed
	}
	return s.getSagaLocked(ctx, sagaID)
}

func (s *SQLiteStore) getSagaLocked(ctx context.Context, sagaID string) (SagaRecord, error) {
	var rec SagaRecord
	var status, createdAt, updatedAt string
	var lockExpiresAtNano int64
	var stepsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT saga_id, name, trace_id, status, steps_json, created_at, updated_at, owner_token, lock_expires_at
		FROM uds3_sagas WHERE saga_id = ?
	`, sagaID).Scan(&rec.SagaID, &rec.Name, &rec.TraceID, &status, &stepsJSON,
		&createdAt, &updatedAt, &rec.OwnerToken, &lockExpiresAtNano)

	if errors.Is(err, sql.ErrNoRows) {
		return SagaRecord{}, ErrNotFound
	}
	if err != nil {
		return SagaRecord{}, fmt.Errorf("get saga: %w", err)
	}

	rec.Status = SagaStatus(status)
	rec.StepsJSON = json.RawMessage(stepsJSON)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if lockExpiresAtNano > 0 {
		rec.LockExpiresAt = time.Unix(0, lockExpiresAtNano).UTC()
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateSagaStatus(ctx context.Context, sagaID string, status SagaStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE uds3_sagas SET status = ?, updated_at = ? WHERE saga_id = ?
	`, string(status), updatedAt.UTC().Format(time.RFC3339Nano), sagaID)
	if err != nil {
		return fmt.Errorf("update saga status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) TryAcquireLock(ctx context.Context, sagaID, ownerToken string, leaseTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	now := time.Now().UTC()
	expiresAt := now.Add(leaseTTL)

	res, err := s.db.ExecContext(ctx, `
		UPDATE uds3_sagas
		SET owner_token = ?, lock_expires_at = ?
		WHERE saga_id = ?
		  AND (owner_token = '' OR owner_token IS NULL OR lock_expires_at < ? OR owner_token = ?)
	`, ownerToken, expiresAt.UnixNano(), sagaID, now.UnixNano(), ownerToken)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) RenewLock(ctx context.Context, sagaID, ownerToken string, leaseTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	expiresAt := time.Now().UTC().Add(leaseTTL)
	res, err := s.db.ExecContext(ctx, `
		UPDATE uds3_sagas SET lock_expires_at = ? WHERE saga_id = ? AND owner_token = ?
	`, expiresAt.UnixNano(), sagaID, ownerToken)
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, sagaID, ownerToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE uds3_sagas SET owner_token = '', lock_expires_at = 0 WHERE saga_id = ? AND owner_token = ?
	`, sagaID, ownerToken)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event EventRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	row := map[string]any{
		"event_id":    event.EventID,
		"saga_id":     event.SagaID,
		"trace_id":    event.TraceID,
		"step_id":     event.StepID,
		"step_index":  event.StepIndex,
		"status":      string(event.Status),
		"attempt":     event.Attempt,
		"started_at":  event.StartedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms": event.DurationMs,
		"error":       event.Error,
	}
	if len(event.PayloadSnapshot) > 0 {
		row["payload_snapshot"] = []byte(event.PayloadSnapshot)
	}
	if event.IdempotencyKey != "" {
		row["idempotency_key"] = event.IdempotencyKey
	}

	id, err := safeInsert(ctx, s.db, "uds3_saga_events", row, "event_id")
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, sagaID string) ([]EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, saga_id, trace_id, step_id, step_index, status, attempt, started_at, duration_ms, error, payload_snapshot, idempotency_key
		FROM uds3_saga_events
		WHERE saga_id = ?
		ORDER BY step_index, attempt, started_at
	`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		var status, startedAt string
		var traceID, stepErr, idempotencyKey sql.NullString
		var payload []byte
		if err := rows.Scan(&ev.EventID, &ev.SagaID, &traceID, &ev.StepID, &ev.StepIndex,
			&status, &ev.Attempt, &startedAt, &ev.DurationMs, &stepErr, &payload, &idempotencyKey); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.TraceID = traceID.String
		ev.Error = stepErr.String
		ev.Status = EventStatus(status)
		ev.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		ev.IdempotencyKey = idempotencyKey.String
		if len(payload) > 0 {
			ev.PayloadSnapshot = json.RawMessage(payload)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FindTerminalByIdempotencyKey returns the most recently started Success
// event carrying key, across every saga.
func (s *SQLiteStore) FindTerminalByIdempotencyKey(ctx context.Context, key string) (EventRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return EventRecord{}, false, ErrStoreClosed
	}
	if key == "" {
		return EventRecord{}, false, nil
	}

	var ev EventRecord
	var status, startedAt string
	var traceID, stepErr, idempotencyKey sql.NullString
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, saga_id, trace_id, step_id, step_index, status, attempt, started_at, duration_ms, error, payload_snapshot, idempotency_key
		FROM uds3_saga_events
		WHERE idempotency_key = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, key, string(EventSuccess)).Scan(&ev.EventID, &ev.SagaID, &traceID, &ev.StepID, &ev.StepIndex,
		&status, &ev.Attempt, &startedAt, &ev.DurationMs, &stepErr, &payload, &idempotencyKey)

	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, false, nil
	}
	if err != nil {
		return EventRecord{}, false, fmt.Errorf("find by idempotency key: %w", err)
	}

	ev.TraceID = traceID.String
	ev.Error = stepErr.String
	ev.Status = EventStatus(status)
	ev.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	ev.IdempotencyKey = idempotencyKey.String
	if len(payload) > 0 {
		ev.PayloadSnapshot = json.RawMessage(payload)
	}
	return ev, true, nil
}

func (s *SQLiteStore) ListOpenSagas(ctx context.Context, olderThan time.Time) ([]SagaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT saga_id FROM uds3_sagas
		WHERE status NOT IN (?, ?, ?, ?) AND updated_at < ?
	`, string(SagaCompleted), string(SagaCompensated), string(SagaCompensationFailed), string(SagaAborted),
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("list open sagas: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan open saga id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	sagas := make([]SagaRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.getSagaLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, rec)
	}
	return sagas, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
