package batchrecovery

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory recovery store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]storedEntry // batcherID -> digest -> entry
	closed bool
}

// storedEntry holds entry data with metadata for List().
type storedEntry struct {
	data      []byte
	sequence  int
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory recovery store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]storedEntry),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(batcherID, digest string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if m.data[batcherID] == nil {
		m.data[batcherID] = make(map[string]storedEntry)
	}

	// Determine sequence number
	seq := 1
	for _, e := range m.data[batcherID] {
		if e.sequence >= seq {
			seq = e.sequence + 1
		}
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	m.data[batcherID][digest] = storedEntry{
		data:      stored,
		sequence:  seq,
		timestamp: time.Now().UTC(),
	}

	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(batcherID, digest string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	instance, ok := m.data[batcherID]
	if !ok {
		return nil, ErrNotFound
	}

	e, ok := instance[digest]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent modification
	result := make([]byte, len(e.data))
	copy(result, e.data)
	return result, nil
}

// List implements Store.
func (m *MemoryStore) List(batcherID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	instance, ok := m.data[batcherID]
	if !ok {
		return nil, nil
	}

	infos := make([]Info, 0, len(instance))
	for digest, e := range instance {
		infos = append(infos, Info{
			BatcherID: batcherID,
			Digest:    digest,
			Sequence:  e.sequence,
			Timestamp: e.timestamp,
			Size:      int64(len(e.data)),
		})
	}

	// Sort by sequence
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})

	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(batcherID, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if instance, ok := m.data[batcherID]; ok {
		delete(instance, digest)
	}
	return nil
}

// DeleteInstance implements Store.
func (m *MemoryStore) DeleteInstance(batcherID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, batcherID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of entries across all batcher instances.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, instance := range m.data {
		count += len(instance)
	}
	return count
}
