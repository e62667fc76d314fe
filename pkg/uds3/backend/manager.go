package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	uds3errors "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/errors"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/governance"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/registry"
)

// Manager holds one active Instance per Kind and dispatches operations
// to it, delegating every call through governance first (§4.2). Instance
// bookkeeping is the same generic Registry the saga package uses for its
// compensation handlers, keyed here by Kind instead of a handler name.
type Manager struct {
	instances *registry.Registry[Kind, *Instance]
	gate      *governance.Gate
	logger    *slog.Logger

	healthInterval time.Duration
	stopHealth     chan struct{}
	healthWG       sync.WaitGroup
}

// NewManager creates an empty Manager. Register instances with
// Register before calling StartAll.
func NewManager(gate *governance.Gate, logger *slog.Logger, healthInterval time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	return &Manager{
		instances:      registry.New[Kind, *Instance](),
		gate:           gate,
		logger:         logger,
		healthInterval: healthInterval,
	}
}

// Register instantiates an adapter for kind without connecting it,
// matching the "instantiates but does not connect unless autostart"
// constructor rule.
func (m *Manager) Register(kind Kind, name string, adapter Adapter, autostart bool) {
	m.instances.Register(kind, newInstance(kind, name, adapter, autostart))
}

// Get returns the configured instance for kind, if any.
func (m *Manager) Get(kind Kind) (*Instance, bool) {
	return m.instances.Get(kind)
}

// StartResult is the outcome of one StartAll call.
type StartResult struct {
	Started []Kind
	Failed  map[Kind]error
}

// StartAll connects registered instances in parallel, bounded by
// perBackendTimeout per connection. With kinds empty, StartAll only
// connects instances registered with autostart=true — the Manager
// "does not connect them unless autostart=true" (§4.2). Naming kinds
// explicitly is an operator override: every named kind is attempted
// regardless of its autostart flag. A connection failure marks that
// instance Error but never aborts the overall call (§4.2 Startup model).
func (m *Manager) StartAll(ctx context.Context, kinds []Kind, perBackendTimeout time.Duration) StartResult {
	var targets []*Instance
	if len(kinds) == 0 {
		m.instances.Range(func(_ Kind, inst *Instance) bool {
			if inst.Autostart {
				targets = append(targets, inst)
			}
			return true
		})
	} else {
		for _, k := range kinds {
			if inst, ok := m.instances.Get(k); ok {
				targets = append(targets, inst)
			}
		}
	}

	result := StartResult{Failed: make(map[Kind]error)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, inst := range targets {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()

			inst.setStatus(StatusInitializing)
			startCtx, cancel := context.WithTimeout(ctx, perBackendTimeout)
			defer cancel()

			err := inst.Adapter.Connect(startCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				inst.setStatus(StatusError)
				result.Failed[inst.Kind] = err
				m.logger.Warn("backend connect failed",
					slog.String("backend_kind", inst.Kind.String()),
					slog.String("error", err.Error()))
				return
			}
			inst.setStatus(StatusHealthy)
			result.Started = append(result.Started, inst.Kind)
			m.logger.Info("backend connected", slog.String("backend_kind", inst.Kind.String()))
		}(inst)
	}

	wg.Wait()
	return result
}

// StopAll idempotently closes every connected instance.
func (m *Manager) StopAll(ctx context.Context) error {
	var targets []*Instance
	m.instances.Range(func(_ Kind, inst *Instance) bool {
		targets = append(targets, inst)
		return true
	})

	var firstErr error
	for _, inst := range targets {
		if inst.Status() == StatusUninitialized {
			continue
		}
		if err := inst.Adapter.Close(ctx); err != nil {
			m.logger.Warn("backend close failed",
				slog.String("backend_kind", inst.Kind.String()),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		inst.setStatus(StatusOffline)
	}
	return firstErr
}

// Execute dispatches one operation to the configured backend for kind,
// following §4.2's four-step protocol: resolve instance, check health,
// check governance, invoke and classify.
func (m *Manager) Execute(ctx context.Context, kind Kind, operation string, payload map[string]any) (any, error) {
	inst, ok := m.Get(kind)
	if !ok {
		return nil, uds3errors.NoBackend(fmt.Errorf("no backend configured for kind %s", kind), operation)
	}

	if !inst.Status().dispatchable() {
		return nil, uds3errors.Unavailable(fmt.Errorf("backend %s is %s", kind, inst.Status()), operation)
	}

	if m.gate != nil {
		if err := m.gate.EnsureAllowed(ctx, kind.String(), operation); err != nil {
			return nil, uds3errors.PolicyDenied(err, operation)
		}
		size := estimatePayloadSize(payload)
		if err := m.gate.ValidatePayload(ctx, kind.String(), operation, payload, size); err != nil {
			return nil, uds3errors.PolicyDenied(err, operation)
		}
	}

	result, err := dispatch(ctx, inst.Adapter, kind, operation, payload)
	if err != nil {
		classified := uds3errors.Categorize(err)
		return nil, uds3errors.New(classified, err, fmt.Sprintf("%s.%s", kind, operation))
	}
	return result, nil
}

func estimatePayloadSize(payload map[string]any) int {
	size := 0
	for k, v := range payload {
		size += len(k)
		if s, ok := v.(string); ok {
			size += len(s)
		} else {
			size += 8
		}
	}
	return size
}

// StartHealthTicker starts the background health-probe loop. Call
// StopHealthTicker to stop it; it is safe to call StartHealthTicker at
// most once per Manager.
func (m *Manager) StartHealthTicker(ctx context.Context) {
	m.stopHealth = make(chan struct{})
	m.healthWG.Add(1)

	go func() {
		defer m.healthWG.Done()
		ticker := time.NewTicker(m.healthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopHealth:
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// StopHealthTicker stops a ticker started by StartHealthTicker.
func (m *Manager) StopHealthTicker() {
	if m.stopHealth != nil {
		close(m.stopHealth)
		m.healthWG.Wait()
	}
}

func (m *Manager) probeAll(ctx context.Context) {
	var targets []*Instance
	m.instances.Range(func(_ Kind, inst *Instance) bool {
		targets = append(targets, inst)
		return true
	})

	for _, inst := range targets {
		if inst.Status() == StatusUninitialized || inst.Status() == StatusOffline {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := inst.Adapter.Ping(probeCtx)
		cancel()

		status := inst.recordProbe(err)
		if err != nil {
			m.logger.Warn("backend health probe failed",
				slog.String("backend_kind", inst.Kind.String()),
				slog.String("status", status.String()),
				slog.String("error", err.Error()))
		}
	}
}

// IsHealthy reports whether every registered instance is Healthy or
// Degraded.
func (m *Manager) IsHealthy() bool {
	healthy := true
	m.instances.Range(func(_ Kind, inst *Instance) bool {
		if !inst.Status().dispatchable() {
			healthy = false
			return false
		}
		return true
	})
	return healthy
}
