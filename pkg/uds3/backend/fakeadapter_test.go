package backend_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/backend"
)

// fakeAdapter is an in-memory stand-in implementing every kind-specific
// sub-interface, used across this package's tests. Concrete backend
// protocols are out of scope (§1), so these tests never talk to a real
// driver; the saga seed scenarios use their own recordingAdapter.
type fakeAdapter struct {
	mu sync.Mutex

	connectErr error
	pingErr    error
	closeErr   error

	store map[string]any

	connectCalls int
	pingCalls    int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{store: make(map[string]any)}
}

func (f *fakeAdapter) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeAdapter) Close(ctx context.Context) error {
	return f.closeErr
}

func (f *fakeAdapter) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCalls++
	return f.pingErr
}

func (f *fakeAdapter) AddDocuments(ctx context.Context, payload map[string]any) (any, error) {
	return f.put(payload)
}
func (f *fakeAdapter) QuerySimilar(ctx context.Context, payload map[string]any) (any, error) {
	return f.get(payload)
}
func (f *fakeAdapter) CreateNode(ctx context.Context, payload map[string]any) (any, error) {
	return f.put(payload)
}
func (f *fakeAdapter) CreateEdge(ctx context.Context, payload map[string]any) (any, error) {
	return f.put(payload)
}
func (f *fakeAdapter) DeleteNode(ctx context.Context, payload map[string]any) (any, error) {
	return f.delete(payload)
}
func (f *fakeAdapter) Match(ctx context.Context, payload map[string]any) (any, error) {
	return f.get(payload)
}
func (f *fakeAdapter) Insert(ctx context.Context, payload map[string]any) (any, error) {
	return f.put(payload)
}
func (f *fakeAdapter) Update(ctx context.Context, payload map[string]any) (any, error) {
	return f.put(payload)
}
func (f *fakeAdapter) ExecuteQuery(ctx context.Context, payload map[string]any) (any, error) {
	return f.get(payload)
}
func (f *fakeAdapter) GetTableSchema(ctx context.Context, table string) ([]backend.ColumnInfo, error) {
	return []backend.ColumnInfo{{Name: "id", DataType: "text"}}, nil
}
func (f *fakeAdapter) SafeInsert(ctx context.Context, table string, row map[string]any) error {
	_, err := f.put(row)
	return err
}
func (f *fakeAdapter) Create(ctx context.Context, payload map[string]any) (any, error) {
	return f.put(payload)
}
func (f *fakeAdapter) Get(ctx context.Context, payload map[string]any) (any, error) {
	return f.get(payload)
}
func (f *fakeAdapter) Put(ctx context.Context, payload map[string]any) (any, error) {
	return f.put(payload)
}
func (f *fakeAdapter) Delete(ctx context.Context, payload map[string]any) (any, error) {
	return f.delete(payload)
}

func (f *fakeAdapter) put(payload map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := payload["id"].(string)
	if id == "" {
		id = fmt.Sprintf("item-%d", len(f.store))
	}
	f.store[id] = payload
	return map[string]any{"id": id}, nil
}

func (f *fakeAdapter) get(payload map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := payload["id"].(string)
	v, ok := f.store[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	return v, nil
}

func (f *fakeAdapter) delete(payload map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := payload["id"].(string)
	delete(f.store, id)
	return nil, nil
}

var (
	_ backend.VectorAdapter     = (*fakeAdapter)(nil)
	_ backend.GraphAdapter      = (*fakeAdapter)(nil)
	_ backend.RelationalAdapter = (*fakeAdapter)(nil)
	_ backend.KeyValueAdapter   = (*fakeAdapter)(nil)
	_ backend.DocumentAdapter   = (*fakeAdapter)(nil)
	_ backend.FileAdapter       = (*fakeAdapter)(nil)
)
