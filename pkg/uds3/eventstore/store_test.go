package eventstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/eventstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) eventstore.Store

func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/CreateAndGetSaga", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		saga := eventstore.SagaRecord{
			SagaID: "saga-1", Name: "ingest", Status: eventstore.SagaCreated,
			StepsJSON: []byte(`[]`), CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		require.NoError(t, store.CreateSaga(ctx, saga))

		got, err := store.GetSaga(ctx, "saga-1")
		require.NoError(t, err)
		assert.Equal(t, "ingest", got.Name)
		assert.Equal(t, eventstore.SagaCreated, got.Status)
	})

	t.Run(name+"/GetSaga_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.GetSaga(ctx, "missing")
		assert.ErrorIs(t, err, eventstore.ErrNotFound)
	})

	t.Run(name+"/UpdateSagaStatus", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		saga := eventstore.SagaRecord{SagaID: "saga-1", Name: "ingest", Status: eventstore.SagaCreated, StepsJSON: []byte(`[]`), CreatedAt: time.Now(), UpdatedAt: time.Now()}
		require.NoError(t, store.CreateSaga(ctx, saga))

		require.NoError(t, store.UpdateSagaStatus(ctx, "saga-1", eventstore.SagaRunning, time.Now()))

		got, err := store.GetSaga(ctx, "saga-1")
		require.NoError(t, err)
		assert.Equal(t, eventstore.SagaRunning, got.Status)
	})

	t.Run(name+"/Lock_AcquireRenewRelease", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		saga := eventstore.SagaRecord{SagaID: "saga-1", Name: "ingest", Status: eventstore.SagaCreated, StepsJSON: []byte(`[]`), CreatedAt: time.Now(), UpdatedAt: time.Now()}
		require.NoError(t, store.CreateSaga(ctx, saga))

		ok, err := store.TryAcquireLock(ctx, "saga-1", "owner-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		// A different owner cannot acquire while the lease is live.
		ok, err = store.TryAcquireLock(ctx, "saga-1", "owner-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.RenewLock(ctx, "saga-1", "owner-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, store.ReleaseLock(ctx, "saga-1", "owner-a"))

		// Now owner-b can acquire.
		ok, err = store.TryAcquireLock(ctx, "saga-1", "owner-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run(name+"/Lock_ExpiredLeaseReassignable", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		saga := eventstore.SagaRecord{SagaID: "saga-1", Name: "ingest", Status: eventstore.SagaCreated, StepsJSON: []byte(`[]`), CreatedAt: time.Now(), UpdatedAt: time.Now()}
		require.NoError(t, store.CreateSaga(ctx, saga))

		ok, err := store.TryAcquireLock(ctx, "saga-1", "owner-a", time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(20 * time.Millisecond)

		ok, err = store.TryAcquireLock(ctx, "saga-1", "owner-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "expired lease should be reassignable")
	})

	t.Run(name+"/AppendAndListEvents_Ordered", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		saga := eventstore.SagaRecord{SagaID: "saga-1", Name: "ingest", Status: eventstore.SagaCreated, StepsJSON: []byte(`[]`), CreatedAt: time.Now(), UpdatedAt: time.Now()}
		require.NoError(t, store.CreateSaga(ctx, saga))

		_, err := store.AppendEvent(ctx, eventstore.EventRecord{
			SagaID: "saga-1", StepID: "step-2", StepIndex: 1, Status: eventstore.EventPending, Attempt: 1, StartedAt: time.Now(),
		})
		require.NoError(t, err)
		_, err = store.AppendEvent(ctx, eventstore.EventRecord{
			SagaID: "saga-1", StepID: "step-1", StepIndex: 0, Status: eventstore.EventPending, Attempt: 1, StartedAt: time.Now(),
		})
		require.NoError(t, err)
		_, err = store.AppendEvent(ctx, eventstore.EventRecord{
			SagaID: "saga-1", StepID: "step-1", StepIndex: 0, Status: eventstore.EventSuccess, Attempt: 1, StartedAt: time.Now(),
		})
		require.NoError(t, err)

		events, err := store.ListEvents(ctx, "saga-1")
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "step-1", events[0].StepID)
		assert.Equal(t, eventstore.EventPending, events[0].Status)
		assert.Equal(t, "step-1", events[1].StepID)
		assert.Equal(t, eventstore.EventSuccess, events[1].Status)
		assert.Equal(t, "step-2", events[2].StepID)
	})

	t.Run(name+"/ListOpenSagas", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		old := time.Now().Add(-time.Hour)
		require.NoError(t, store.CreateSaga(ctx, eventstore.SagaRecord{
			SagaID: "open-1", Name: "a", Status: eventstore.SagaRunning, StepsJSON: []byte(`[]`), CreatedAt: old, UpdatedAt: old,
		}))
		require.NoError(t, store.CreateSaga(ctx, eventstore.SagaRecord{
			SagaID: "done-1", Name: "b", Status: eventstore.SagaCompleted, StepsJSON: []byte(`[]`), CreatedAt: old, UpdatedAt: old,
		}))
		require.NoError(t, store.CreateSaga(ctx, eventstore.SagaRecord{
			SagaID: "recent-1", Name: "c", Status: eventstore.SagaRunning, StepsJSON: []byte(`[]`), CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))

		open, err := store.ListOpenSagas(ctx, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "open-1", open[0].SagaID)
	})

	t.Run(name+"/Close_ThenError", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		_, err := store.GetSaga(ctx, "saga-1")
		assert.ErrorIs(t, err, eventstore.ErrStoreClosed)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContractTest(t, "MemoryStore", func(t *testing.T) eventstore.Store {
		return eventstore.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContractTest(t, "SQLiteStore", func(t *testing.T) eventstore.Store {
		store, err := eventstore.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return store
	})
}
