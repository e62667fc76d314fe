package backend

import "context"

// Adapter is the lifecycle contract every concrete driver (an external
// collaborator, per the non-goal on concrete backend protocols) must
// implement regardless of kind.
type Adapter interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error
}

// VectorAdapter covers the Vector capability matrix.
type VectorAdapter interface {
	Adapter
	AddDocuments(ctx context.Context, payload map[string]any) (any, error)
	QuerySimilar(ctx context.Context, payload map[string]any) (any, error)
	Delete(ctx context.Context, payload map[string]any) (any, error)
}

// GraphAdapter covers the Graph capability matrix.
type GraphAdapter interface {
	Adapter
	CreateNode(ctx context.Context, payload map[string]any) (any, error)
	CreateEdge(ctx context.Context, payload map[string]any) (any, error)
	DeleteNode(ctx context.Context, payload map[string]any) (any, error)
	Match(ctx context.Context, payload map[string]any) (any, error)
}

// RelationalAdapter covers the Relational capability matrix, plus the
// schema-sensitive insert (§4.4.6) used exclusively by the saga event
// store.
type RelationalAdapter interface {
	Adapter
	Insert(ctx context.Context, payload map[string]any) (any, error)
	Update(ctx context.Context, payload map[string]any) (any, error)
	Delete(ctx context.Context, payload map[string]any) (any, error)
	ExecuteQuery(ctx context.Context, payload map[string]any) (any, error)
	GetTableSchema(ctx context.Context, table string) ([]ColumnInfo, error)
	SafeInsert(ctx context.Context, table string, row map[string]any) error
}

// ColumnInfo describes one column of a relational table, as returned by
// GetTableSchema for the safe-insert column-projection logic.
type ColumnInfo struct {
	Name     string
	DataType string
	Nullable bool
}

// KeyValueAdapter covers the KeyValue capability matrix.
type KeyValueAdapter interface {
	Adapter
	Get(ctx context.Context, payload map[string]any) (any, error)
	Put(ctx context.Context, payload map[string]any) (any, error)
	Delete(ctx context.Context, payload map[string]any) (any, error)
}

// DocumentAdapter covers the Document capability matrix.
type DocumentAdapter interface {
	Adapter
	Create(ctx context.Context, payload map[string]any) (any, error)
	Get(ctx context.Context, payload map[string]any) (any, error)
	Update(ctx context.Context, payload map[string]any) (any, error)
	Delete(ctx context.Context, payload map[string]any) (any, error)
}

// FileAdapter covers the File capability matrix.
type FileAdapter interface {
	Adapter
	Put(ctx context.Context, payload map[string]any) (any, error)
	Get(ctx context.Context, payload map[string]any) (any, error)
	Delete(ctx context.Context, payload map[string]any) (any, error)
}
