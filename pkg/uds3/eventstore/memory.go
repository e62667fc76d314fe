package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store, grounded on the teacher's
// saga.MemoryStore shape, used by tests and the seed-test scenarios.
type MemoryStore struct {
	mu     sync.Mutex
	closed bool
	sagas  map[string]SagaRecord
	events map[string][]EventRecord // keyed by saga_id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sagas:  make(map[string]SagaRecord),
		events: make(map[string][]EventRecord),
	}
}

func (m *MemoryStore) CreateSaga(ctx context.Context, saga SagaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, exists := m.sagas[saga.SagaID]; exists {
		return fmt.Errorf("eventstore: saga %s already exists", saga.SagaID)
	}
	m.sagas[saga.SagaID] = saga
	return nil
}

func (m *MemoryStore) GetSaga(ctx context.Context, sagaID string) (SagaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return SagaRecord{}, ErrStoreClosed
	}
	rec, ok := m.sagas[sagaID]
	if !ok {
		return SagaRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) UpdateSagaStatus(ctx context.Context, sagaID string, status SagaStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	rec, ok := m.sagas[sagaID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = updatedAt
	m.sagas[sagaID] = rec
	return nil
}

func (m *MemoryStore) TryAcquireLock(ctx context.Context, sagaID, ownerToken string, leaseTTL time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrStoreClosed
	}
	rec, ok := m.sagas[sagaID]
	if !ok {
		return false, ErrNotFound
	}

	now := time.Now()
	if rec.OwnerToken != "" && rec.OwnerToken != ownerToken && now.Before(rec.LockExpiresAt) {
		return false, nil
	}

	rec.OwnerToken = ownerToken
	rec.LockExpiresAt = now.Add(leaseTTL)
	m.sagas[sagaID] = rec
	return true, nil
}

func (m *MemoryStore) RenewLock(ctx context.Context, sagaID, ownerToken string, leaseTTL time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrStoreClosed
	}
	rec, ok := m.sagas[sagaID]
	if !ok {
		return false, ErrNotFound
	}
	if rec.OwnerToken != ownerToken {
		return false, nil
	}
	rec.LockExpiresAt = time.Now().Add(leaseTTL)
	m.sagas[sagaID] = rec
	return true, nil
}

func (m *MemoryStore) ReleaseLock(ctx context.Context, sagaID, ownerToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	rec, ok := m.sagas[sagaID]
	if !ok || rec.OwnerToken != ownerToken {
		return nil
	}
	rec.OwnerToken = ""
	rec.LockExpiresAt = time.Time{}
	m.sagas[sagaID] = rec
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event EventRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrStoreClosed
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	m.events[event.SagaID] = append(m.events[event.SagaID], event)
	return event.EventID, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, sagaID string) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	events := append([]EventRecord(nil), m.events[sagaID]...)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].StepIndex != events[j].StepIndex {
			return events[i].StepIndex < events[j].StepIndex
		}
		return events[i].Attempt < events[j].Attempt
	})
	return events, nil
}

func (m *MemoryStore) FindTerminalByIdempotencyKey(ctx context.Context, key string) (EventRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return EventRecord{}, false, ErrStoreClosed
	}
	if key == "" {
		return EventRecord{}, false, nil
	}

	var best EventRecord
	found := false
	for _, events := range m.events {
		for _, e := range events {
			if e.IdempotencyKey != key || e.Status != EventSuccess {
				continue
			}
			if !found || e.StartedAt.After(best.StartedAt) {
				best = e
				found = true
			}
		}
	}
	return best, found, nil
}

func (m *MemoryStore) ListOpenSagas(ctx context.Context, olderThan time.Time) ([]SagaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	var open []SagaRecord
	for _, rec := range m.sagas {
		switch rec.Status {
		case SagaCompleted, SagaCompensated, SagaCompensationFailed, SagaAborted:
			continue
		}
		if rec.UpdatedAt.Before(olderThan) {
			open = append(open, rec)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].SagaID < open[j].SagaID })
	return open, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
