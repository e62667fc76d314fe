package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSafeInsert_DirectColumnMatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT, qty INTEGER)`)
	require.NoError(t, err)

	id, err := safeInsert(ctx, db, "widgets", map[string]any{
		"id": "w1", "name": "sprocket", "qty": 5,
	}, "id")
	require.NoError(t, err)
	assert.Equal(t, "w1", id)

	var name string
	var qty int
	require.NoError(t, db.QueryRow(`SELECT name, qty FROM widgets WHERE id = ?`, "w1").Scan(&name, &qty))
	assert.Equal(t, "sprocket", name)
	assert.Equal(t, 5, qty)
}

func TestSafeInsert_OverflowIntoCatchAllColumn(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT, extra BLOB)`)
	require.NoError(t, err)

	_, err = safeInsert(ctx, db, "widgets", map[string]any{
		"id": "w1", "name": "sprocket", "color": "red", "weight_g": 12,
	}, "id")
	require.NoError(t, err)

	var extraRaw []byte
	require.NoError(t, db.QueryRow(`SELECT extra FROM widgets WHERE id = ?`, "w1").Scan(&extraRaw))

	var extra map[string]any
	require.NoError(t, json.Unmarshal(extraRaw, &extra))
	assert.Equal(t, "red", extra["color"])
	assert.Equal(t, float64(12), extra["weight_g"])
}

func TestSafeInsert_OverflowDroppedWithoutCatchAll(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	_, err = safeInsert(ctx, db, "widgets", map[string]any{
		"id": "w1", "name": "sprocket", "color": "red",
	}, "id")
	require.NoError(t, err)

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM widgets WHERE id = ?`, "w1").Scan(&name))
	assert.Equal(t, "sprocket", name)
}

func TestSafeInsert_OpaqueDataColumnFallback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE opaque_events (id TEXT PRIMARY KEY, data BLOB)`)
	require.NoError(t, err)

	_, err = safeInsert(ctx, db, "opaque_events", map[string]any{
		"id": "e1", "status": "Pending", "attempt": 1,
	}, "id")
	require.NoError(t, err)

	var dataRaw []byte
	require.NoError(t, db.QueryRow(`SELECT data FROM opaque_events WHERE id = ?`, "e1").Scan(&dataRaw))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(dataRaw, &decoded))
	assert.Equal(t, "Pending", decoded["status"])
	assert.Equal(t, float64(1), decoded["attempt"])
}
