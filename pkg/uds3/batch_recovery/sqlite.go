package batchrecovery

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists recovery entries to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite recovery store.
// The path should be a file path (e.g., "./batch_recovery.db") or
// ":memory:" for testing.
//
// The database file is created with restrictive permissions (0600) to
// protect in-flight batch payloads, which may carry sensitive field
// data en route to a backend.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Create file with restrictive permissions BEFORE sql.Open touches it.
	// This prevents a TOCTOU race where the file is briefly world-readable.
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if createErr == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Warn("failed to close recovery file after creation",
						slog.String("path", path),
						slog.String("error", closeErr.Error()))
				}
			}
			// Ignore createErr - file might have been created between Stat and OpenFile (TOCTOU)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Create table and index
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_recovery_entries (
			batcher_id TEXT NOT NULL,
			digest TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (batcher_id, digest)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_batch_recovery_batcher_id
		ON batch_recovery_entries(batcher_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	// Ensure permissions are correct for existing files
	if path != ":memory:" {
		if err := os.Chmod(path, 0600); err != nil {
			slog.Warn("failed to set restrictive permissions on recovery file",
				slog.String("path", path),
				slog.String("error", err.Error()),
				slog.String("security_note", "recovery entries may be readable by other users"))
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(batcherID, digest string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	// Use INSERT OR REPLACE to handle updates
	// Calculate sequence as max + 1 for this batcher instance
	_, err := s.db.Exec(`
		INSERT INTO batch_recovery_entries (batcher_id, digest, sequence, timestamp, data)
		VALUES (
			?, ?,
			COALESCE((SELECT MAX(sequence) FROM batch_recovery_entries WHERE batcher_id = ?), 0) + 1,
			?, ?
		)
		ON CONFLICT(batcher_id, digest) DO UPDATE SET
			sequence = (SELECT MAX(sequence) FROM batch_recovery_entries WHERE batcher_id = excluded.batcher_id) + 1,
			timestamp = excluded.timestamp,
			data = excluded.data
	`, batcherID, digest, batcherID, time.Now().UTC().Format(time.RFC3339Nano), data)

	if err != nil {
		return fmt.Errorf("save recovery entry: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(batcherID, digest string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(`
		SELECT data FROM batch_recovery_entries
		WHERE batcher_id = ? AND digest = ?
	`, batcherID, digest).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load recovery entry: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *SQLiteStore) List(batcherID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT digest, sequence, timestamp, LENGTH(data)
		FROM batch_recovery_entries
		WHERE batcher_id = ?
		ORDER BY sequence
	`, batcherID)
	if err != nil {
		return nil, fmt.Errorf("list recovery entries: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var timestamp string
		if err := rows.Scan(&info.Digest, &info.Sequence, &timestamp, &info.Size); err != nil {
			return nil, fmt.Errorf("scan recovery entry info: %w", err)
		}
		info.BatcherID = batcherID
		var parseErr error
		info.Timestamp, parseErr = time.Parse(time.RFC3339Nano, timestamp)
		if parseErr != nil {
			slog.Warn("failed to parse recovery entry timestamp",
				slog.String("batcher_id", batcherID),
				slog.String("digest", info.Digest),
				slog.String("raw_timestamp", timestamp),
				slog.String("error", parseErr.Error()))
			// info.Timestamp will be zero time
		}
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recovery entries: %w", err)
	}

	return infos, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(batcherID, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		DELETE FROM batch_recovery_entries
		WHERE batcher_id = ? AND digest = ?
	`, batcherID, digest)
	if err != nil {
		return fmt.Errorf("delete recovery entry: %w", err)
	}
	return nil
}

// DeleteInstance implements Store.
func (s *SQLiteStore) DeleteInstance(batcherID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		DELETE FROM batch_recovery_entries WHERE batcher_id = ?
	`, batcherID)
	if err != nil {
		return fmt.Errorf("delete instance recovery entries: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
