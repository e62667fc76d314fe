package backend

import (
	"sync"
	"time"
)

// Status is a BackendInstance's lifecycle/health state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusHealthy
	StatusDegraded
	StatusError
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusError:
		return "error"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// dispatchable reports whether the manager should even attempt an
// execute() call against an instance in this status (§4.2 step 2).
func (s Status) dispatchable() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// Instance is one configured BackendInstance: an adapter plus its
// runtime health state. Status transitions are serialized by mu;
// dispatch itself (Manager.Execute) does not hold this lock across the
// adapter call.
type Instance struct {
	Kind Kind
	Name string

	Adapter   Adapter
	Autostart bool

	mu                sync.Mutex
	status            Status
	lastHealthCheckAt time.Time
	consecutiveFailed int
}

func newInstance(kind Kind, name string, adapter Adapter, autostart bool) *Instance {
	return &Instance{
		Kind:      kind,
		Name:      name,
		Adapter:   adapter,
		Autostart: autostart,
		status:    StatusUninitialized,
	}
}

// Status returns the instance's current status.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// LastHealthCheckAt returns the timestamp of the most recent health probe.
func (i *Instance) LastHealthCheckAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastHealthCheckAt
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = s
}

// recordProbe applies the result of one health probe, implementing the
// three-consecutive-failures-to-Error transition (§4.2 Health).
func (i *Instance) recordProbe(err error) Status {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.lastHealthCheckAt = time.Now()

	if err == nil {
		i.consecutiveFailed = 0
		if i.status != StatusOffline {
			i.status = StatusHealthy
		}
		return i.status
	}

	i.consecutiveFailed++
	if i.consecutiveFailed >= 3 {
		i.status = StatusError
	} else if i.status == StatusHealthy {
		i.status = StatusDegraded
	}
	return i.status
}
