package saga

import (
	"context"
	"fmt"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/backend"
	uds3errors "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/errors"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/registry"
)

// CompensationRegistry names CompensationHandlers so StepSpec.CompensationName
// can reference one without the Orchestrator holding function values
// directly. Registrations happen once at process startup; lookups are
// read-heavy and take only registry.Registry's shared read lock.
type CompensationRegistry struct {
	handlers *registry.Registry[string, CompensationHandler]
}

// NewCompensationRegistry creates an empty registry.
func NewCompensationRegistry() *CompensationRegistry {
	return &CompensationRegistry{handlers: registry.New[string, CompensationHandler]()}
}

// Register adds or replaces a named compensation handler.
func (r *CompensationRegistry) Register(name string, handler CompensationHandler) {
	r.handlers.Register(name, handler)
}

// Get returns the handler registered under name, if any.
func (r *CompensationRegistry) Get(name string) (CompensationHandler, bool) {
	return r.handlers.Get(name)
}

// RegisterDefaults adds the three built-in handlers §6 names:
// relational_delete, graph_delete_node, vector_delete_chunks. Each is a
// thin wrapper over the matching Manager operation, idempotent because
// the underlying adapter call classifies a missing target as NotFound,
// which the step loop already treats as Success-by-idempotency for
// delete operations.
func (r *CompensationRegistry) RegisterDefaults() {
	r.Register("relational_delete", func(ctx context.Context, m *backend.Manager, payload map[string]any) error {
		_, err := m.Execute(ctx, backend.KindRelational, "delete", payload)
		return ignoreNotFound(err)
	})
	r.Register("graph_delete_node", func(ctx context.Context, m *backend.Manager, payload map[string]any) error {
		_, err := m.Execute(ctx, backend.KindGraph, "delete_node", payload)
		return ignoreNotFound(err)
	})
	r.Register("vector_delete_chunks", func(ctx context.Context, m *backend.Manager, payload map[string]any) error {
		_, err := m.Execute(ctx, backend.KindVector, "delete", payload)
		return ignoreNotFound(err)
	})
}

func ignoreNotFound(err error) error {
	if err == nil {
		return nil
	}
	if uds3errors.Categorize(err) == uds3errors.KindNotFound {
		return nil
	}
	return fmt.Errorf("compensation: %w", err)
}
