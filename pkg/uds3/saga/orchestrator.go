package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/audit"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/backend"
	uds3errors "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/errors"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/eventstore"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/governance"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/observability"
)

const (
	defaultLeaseTTL           = 30 * time.Second
	defaultLeaseRenewInterval = 10 * time.Second
	defaultBackoffInitial     = 100 * time.Millisecond
	defaultBackoffMax         = 5 * time.Second
	defaultBackoffMultiplier  = 2.0
)

// Orchestrator drives Sagas through the event store, the governance
// gate and the backend Manager. It holds no per-Saga state itself: all
// durable state lives in the eventstore.Store, so the same Orchestrator
// value (or independent instances sharing a store) can safely drive
// concurrent sagas, with eventstore's row-level CAS lock as the only
// mutual-exclusion boundary (I6).
type Orchestrator struct {
	store         eventstore.Store
	manager       *backend.Manager
	gate          *governance.Gate
	compensations *CompensationRegistry
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	bus           audit.Bus

	ownerToken         string
	leaseTTL           time.Duration
	leaseRenewInterval time.Duration
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics overrides the default no-op MetricsRecorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLease overrides the default lock lease TTL and renewal interval.
func WithLease(ttl, renewInterval time.Duration) Option {
	return func(o *Orchestrator) {
		o.leaseTTL = ttl
		o.leaseRenewInterval = renewInterval
	}
}

// WithAuditBus wires a Bus that receives a record every time a Saga
// settles CompensationFailed (§4.4.3's "alert-worthy audit record"). Nil
// (the default) means no record is published.
func WithAuditBus(bus audit.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// NewOrchestrator wires a store, a backend Manager and a governance Gate
// into a ready-to-use Orchestrator. compensations may be nil, in which
// case an empty registry with no default handlers is used.
func NewOrchestrator(store eventstore.Store, manager *backend.Manager, gate *governance.Gate, compensations *CompensationRegistry, opts ...Option) *Orchestrator {
	if compensations == nil {
		compensations = NewCompensationRegistry()
	}
	o := &Orchestrator{
		store:              store,
		manager:            manager,
		gate:               gate,
		compensations:      compensations,
		logger:             slog.Default(),
		metrics:            observability.NoopMetrics{},
		ownerToken:         uuid.NewString(),
		leaseTTL:           defaultLeaseTTL,
		leaseRenewInterval: defaultLeaseRenewInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create persists the Saga header and one attempt=0 Pending placeholder
// event per step (§4.4.1), then returns the generated saga_id. Steps
// carrying no retry policy or timeout get their zero values filled in by
// the execution loop at dispatch time.
func (o *Orchestrator) Create(ctx context.Context, name string, steps []StepSpec, traceID string) (string, error) {
	sagaID := uuid.NewString()
	now := time.Now().UTC()

	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("saga: marshal steps: %w", err)
	}

	rec := eventstore.SagaRecord{
		SagaID:    sagaID,
		Name:      name,
		TraceID:   traceID,
		Status:    eventstore.SagaCreated,
		StepsJSON: stepsJSON,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateSaga(ctx, rec); err != nil {
		return "", err
	}

	for i, step := range steps {
		if _, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
			SagaID:    sagaID,
			TraceID:   traceID,
			StepID:    step.StepID,
			StepIndex: i,
			Status:    eventstore.EventPending,
			Attempt:   0,
			StartedAt: now,
		}); err != nil {
			return "", err
		}
	}

	observability.LogSagaStart(o.logger, sagaID, name)
	return sagaID, nil
}

// Execute runs a created Saga to completion, failure, or compensation.
// Calling Execute again after a terminal status is a no-op that returns
// the already-settled Result (I4).
func (o *Orchestrator) Execute(ctx context.Context, sagaID string) (Result, error) {
	return o.run(ctx, sagaID)
}

// Resume reconstructs per-step state from the event log and continues or
// compensates accordingly (§4.4.4). It is safe to call repeatedly,
// including against a Saga another orchestrator instance is mid-way
// through: the lock acquisition in run() decides who proceeds.
func (o *Orchestrator) Resume(ctx context.Context, sagaID string) (Result, error) {
	return o.run(ctx, sagaID)
}

// run implements both Execute and Resume: the recovery-state
// reconstruction in §4.4.4 subsumes a fresh execute (every step simply
// reports NotStarted).
func (o *Orchestrator) run(ctx context.Context, sagaID string) (Result, error) {
	start := time.Now()

	saga, err := o.store.GetSaga(ctx, sagaID)
	if err != nil {
		return Result{}, err
	}

	switch saga.Status {
	case eventstore.SagaCompleted, eventstore.SagaCompensated, eventstore.SagaCompensationFailed, eventstore.SagaAborted:
		events, _ := o.store.ListEvents(ctx, sagaID)
		return Result{SagaID: sagaID, Status: saga.Status, Events: events}, nil
	}

	var steps []StepSpec
	if err := json.Unmarshal(saga.StepsJSON, &steps); err != nil {
		return Result{}, uds3errors.CorruptEventLog(err, sagaID)
	}

	acquired, err := o.store.TryAcquireLock(ctx, sagaID, o.ownerToken, o.leaseTTL)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{}, uds3errors.LockLost(fmt.Errorf("saga %s is held by another owner", sagaID), sagaID)
	}
	defer o.store.ReleaseLock(ctx, sagaID, o.ownerToken)

	if len(steps) == 0 {
		if err := o.store.UpdateSagaStatus(ctx, sagaID, eventstore.SagaCompleted, time.Now().UTC()); err != nil {
			return Result{}, err
		}
		observability.LogSagaComplete(o.logger, sagaID, time.Since(start).Seconds()*1000, 0)
		return Result{SagaID: sagaID, Status: eventstore.SagaCompleted}, nil
	}

	if err := o.store.UpdateSagaStatus(ctx, sagaID, eventstore.SagaRunning, time.Now().UTC()); err != nil {
		return Result{}, err
	}

	events, err := o.store.ListEvents(ctx, sagaID)
	if err != nil {
		return Result{}, err
	}

	renewCtx, cancelRenew := context.WithCancel(ctx)
	defer cancelRenew()
	go o.renewLeaseLoop(renewCtx, sagaID)

	startIndex, priorFailure := recoveryPlan(steps, events)
	if priorFailure {
		executed := successfulPrefix(steps, events)
		return o.runCompensation(ctx, sagaID, saga.TraceID, executed, start)
	}

	var executed []StepSpec
	for i := startIndex; i < len(steps); i++ {
		select {
		case <-ctx.Done():
			return Result{SagaID: sagaID, Status: eventstore.SagaRunning}, ctx.Err()
		default:
		}

		status, stepErr := o.executeStep(ctx, sagaID, saga.TraceID, steps[i], i)
		if status == eventstore.EventSuccess || status == eventstore.EventSkipped {
			executed = append(executed, steps[i])
			continue
		}

		observability.LogStepError(o.logger, steps[i].StepID, stepErr)
		o.metrics.RecordSagaRun(ctx, false, time.Since(start))
		result, compErr := o.runCompensation(ctx, sagaID, saga.TraceID, executed, start)
		if compErr != nil {
			return result, compErr
		}
		return result, stepErr
	}

	if err := o.store.UpdateSagaStatus(ctx, sagaID, eventstore.SagaCompleted, time.Now().UTC()); err != nil {
		return Result{}, err
	}
	finalEvents, _ := o.store.ListEvents(ctx, sagaID)
	observability.LogSagaComplete(o.logger, sagaID, time.Since(start).Seconds()*1000, len(steps))
	o.metrics.RecordSagaRun(ctx, true, time.Since(start))
	return Result{SagaID: sagaID, Status: eventstore.SagaCompleted, Events: finalEvents}, nil
}

func (o *Orchestrator) renewLeaseLoop(ctx context.Context, sagaID string) {
	ticker := time.NewTicker(o.leaseRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := o.store.RenewLock(ctx, sagaID, o.ownerToken, o.leaseTTL); err != nil {
				o.logger.Warn("saga lease renewal failed", "saga_id", sagaID, "error", err)
			} else if !ok {
				o.logger.Warn("saga lease renewal failed: lock no longer held", "saga_id", sagaID)
			}
		}
	}
}

// executeStep implements §4.4.2 steps 2-6. The lock check of step 1 is
// enforced by run()'s TryAcquireLock plus the background renewal loop,
// not re-verified per step; a lease lost mid-saga surfaces as a renewal
// failure logged above, and the next writer to successfully acquire the
// lock will observe this orchestrator's last durable event on resume.
func (o *Orchestrator) executeStep(ctx context.Context, sagaID, traceID string, step StepSpec, stepIndex int) (eventstore.EventStatus, error) {
	events, err := o.store.ListEvents(ctx, sagaID)
	if err != nil {
		return eventstore.EventFail, err
	}

	lastAttempt := 0
	hasPlaceholder := false
	for _, e := range events {
		if e.StepIndex != stepIndex {
			continue
		}
		if e.Attempt == 0 && e.Status == eventstore.EventPending {
			hasPlaceholder = true
		}
		if e.Attempt > lastAttempt {
			lastAttempt = e.Attempt
		}
		if e.Status == eventstore.EventSuccess || e.Status == eventstore.EventSkipped {
			attempt := lastAttempt + 1
			if _, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
				SagaID: sagaID, TraceID: traceID, StepID: step.StepID, StepIndex: stepIndex,
				Status: eventstore.EventSkipped, Attempt: attempt, StartedAt: time.Now().UTC(),
				IdempotencyKey: step.IdempotencyKey,
			}); err != nil {
				return eventstore.EventFail, err
			}
			return eventstore.EventSkipped, nil
		}
	}

	// A step carrying an idempotency key dedupes against any prior
	// Success for that key from a different saga execution, not just
	// this one (§4.4.2 step 2) — distinct from the same-saga check above.
	if step.IdempotencyKey != "" {
		if _, found, err := o.store.FindTerminalByIdempotencyKey(ctx, step.IdempotencyKey); err != nil {
			return eventstore.EventFail, err
		} else if found {
			attempt := lastAttempt + 1
			if _, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
				SagaID: sagaID, TraceID: traceID, StepID: step.StepID, StepIndex: stepIndex,
				Status: eventstore.EventSkipped, Attempt: attempt, StartedAt: time.Now().UTC(),
				IdempotencyKey: step.IdempotencyKey,
			}); err != nil {
				return eventstore.EventFail, err
			}
			return eventstore.EventSkipped, nil
		}
	}

	policy := step.RetryPolicy
	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := time.Duration(policy.BackoffInitialMs) * time.Millisecond
	if backoff <= 0 {
		backoff = defaultBackoffInitial
	}
	maxBackoff := time.Duration(policy.MaxBackoffMs) * time.Millisecond
	if maxBackoff <= 0 {
		maxBackoff = defaultBackoffMax
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = defaultBackoffMultiplier
	}

	// Create's attempt-0 Pending placeholder is the write-ahead record of
	// a step's first attempt, so a step with no later attempt dispatches
	// as attempt 0 without appending a second Pending.
	firstAttempt := lastAttempt + 1
	if hasPlaceholder && lastAttempt == 0 {
		firstAttempt = 0
	}

	for i := 0; i < maxAttempts; i++ {
		attempt := firstAttempt + i
		observability.LogStepStart(o.logger, step.StepID)

		if o.gate != nil {
			opts := []governance.ContextOption{governance.WithSagaContext(sagaID, step.StepID)}
			if err := o.gate.EnsureAllowed(ctx, step.BackendKind.String(), step.Operation, opts...); err != nil {
				o.metrics.RecordGovernanceDenial(ctx, step.BackendKind.String(), step.Operation)
				return o.failStep(ctx, sagaID, traceID, step, stepIndex, attempt, err)
			}
			size := estimatePayloadSize(step.Payload)
			if err := o.gate.ValidatePayload(ctx, step.BackendKind.String(), step.Operation, step.Payload, size, opts...); err != nil {
				o.metrics.RecordGovernanceDenial(ctx, step.BackendKind.String(), step.Operation)
				return o.failStep(ctx, sagaID, traceID, step, stepIndex, attempt, err)
			}
		}

		stepStart := time.Now().UTC()
		if attempt > 0 {
			if _, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
				SagaID: sagaID, TraceID: traceID, StepID: step.StepID, StepIndex: stepIndex,
				Status: eventstore.EventPending, Attempt: attempt, StartedAt: stepStart,
			}); err != nil {
				return eventstore.EventFail, err
			}
		}

		dispatchCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			dispatchCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		}
		_, dispatchErr := o.manager.Execute(dispatchCtx, step.BackendKind, step.Operation, step.Payload)
		if dispatchErr != nil && cancel != nil && dispatchCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			dispatchErr = &uds3errors.TimeoutError{Operation: step.Operation, Duration: step.Timeout}
		}
		if cancel != nil {
			cancel()
		}
		duration := time.Since(stepStart)
		o.metrics.RecordStepExecution(ctx, step.BackendKind.String(), step.StepID, duration, dispatchErr)

		if dispatchErr == nil {
			if _, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
				SagaID: sagaID, TraceID: traceID, StepID: step.StepID, StepIndex: stepIndex,
				Status: eventstore.EventSuccess, Attempt: attempt, StartedAt: stepStart,
				DurationMs: duration.Milliseconds(), IdempotencyKey: step.IdempotencyKey,
			}); err != nil {
				return eventstore.EventFail, err
			}
			observability.LogStepComplete(o.logger, step.StepID, duration.Seconds()*1000)
			return eventstore.EventSuccess, nil
		}

		kind := uds3errors.Categorize(dispatchErr)
		last := i == maxAttempts-1

		switch kind {
		case uds3errors.KindTransient, uds3errors.KindUnavailable:
			if last {
				return o.failStep(ctx, sagaID, traceID, step, stepIndex, attempt, dispatchErr)
			}
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, multiplier, maxBackoff)
			continue

		case uds3errors.KindConflict:
			if !last {
				sleepWithJitter(ctx, backoff)
				continue
			}
			if _, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
				SagaID: sagaID, TraceID: traceID, StepID: step.StepID, StepIndex: stepIndex,
				Status: eventstore.EventSuccess, Attempt: attempt, StartedAt: stepStart,
				DurationMs: duration.Milliseconds(), Error: "conflict resolved by idempotency",
				IdempotencyKey: step.IdempotencyKey,
			}); err != nil {
				return eventstore.EventFail, err
			}
			return eventstore.EventSuccess, nil

		case uds3errors.KindNotFound:
			if isDeleteOperation(step.Operation) {
				if _, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
					SagaID: sagaID, TraceID: traceID, StepID: step.StepID, StepIndex: stepIndex,
					Status: eventstore.EventSuccess, Attempt: attempt, StartedAt: stepStart,
					DurationMs: duration.Milliseconds(),
				}); err != nil {
					return eventstore.EventFail, err
				}
				return eventstore.EventSuccess, nil
			}
			return o.failStep(ctx, sagaID, traceID, step, stepIndex, attempt, dispatchErr)

		default:
			return o.failStep(ctx, sagaID, traceID, step, stepIndex, attempt, dispatchErr)
		}
	}

	return o.failStep(ctx, sagaID, traceID, step, stepIndex, lastAttempt+maxAttempts, fmt.Errorf("step %s exhausted retries", step.StepID))
}

func (o *Orchestrator) failStep(ctx context.Context, sagaID, traceID string, step StepSpec, stepIndex, attempt int, cause error) (eventstore.EventStatus, error) {
	if _, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
		SagaID: sagaID, TraceID: traceID, StepID: step.StepID, StepIndex: stepIndex,
		Status: eventstore.EventFail, Attempt: attempt, StartedAt: time.Now().UTC(),
		Error: cause.Error(),
	}); err != nil {
		return eventstore.EventFail, err
	}
	return eventstore.EventFail, cause
}

// Compensate invokes compensation handlers in reverse order for the
// given (or inferred) successful steps (§4.4.3). Exposed for callers
// that want to drive compensation outside the normal failure path, e.g.
// abort().
func (o *Orchestrator) Compensate(ctx context.Context, sagaID string, executedSteps []StepSpec) error {
	saga, err := o.store.GetSaga(ctx, sagaID)
	if err != nil {
		return err
	}
	result, err := o.runCompensation(ctx, sagaID, saga.TraceID, executedSteps, time.Now())
	if err != nil {
		return err
	}
	if result.Status == eventstore.SagaCompensationFailed {
		return uds3errors.CompensationFailed(fmt.Errorf("one or more compensation handlers failed for saga %s", sagaID), sagaID)
	}
	return nil
}

func (o *Orchestrator) runCompensation(ctx context.Context, sagaID, traceID string, executed []StepSpec, start time.Time) (Result, error) {
	if err := o.store.UpdateSagaStatus(ctx, sagaID, eventstore.SagaCompensating, time.Now().UTC()); err != nil {
		return Result{}, err
	}

	anyFailed := false
	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i]

		if step.CompensationName == "" {
			o.appendCompensationEvent(ctx, sagaID, traceID, step, eventstore.EventCompensated, "noop")
			continue
		}
		handler, ok := o.compensations.Get(step.CompensationName)
		if !ok {
			o.appendCompensationEvent(ctx, sagaID, traceID, step, eventstore.EventCompensated, "noop: handler "+step.CompensationName+" not registered")
			continue
		}

		o.appendCompensationEvent(ctx, sagaID, traceID, step, eventstore.EventPending, "")

		if err := handler(ctx, o.manager, step.Payload); err != nil {
			anyFailed = true
			observability.LogCompensation(o.logger, sagaID, step.StepID, err)
			o.appendCompensationEvent(ctx, sagaID, traceID, step, eventstore.EventFail, err.Error())
			o.metrics.RecordCompensation(ctx, step.StepID, false)
			continue
		}
		observability.LogCompensation(o.logger, sagaID, step.StepID, nil)
		o.appendCompensationEvent(ctx, sagaID, traceID, step, eventstore.EventCompensated, "")
		o.metrics.RecordCompensation(ctx, step.StepID, true)
	}

	finalStatus := eventstore.SagaCompensated
	if anyFailed {
		finalStatus = eventstore.SagaCompensationFailed
	}
	if err := o.store.UpdateSagaStatus(ctx, sagaID, finalStatus, time.Now().UTC()); err != nil {
		return Result{}, err
	}

	events, _ := o.store.ListEvents(ctx, sagaID)
	if finalStatus == eventstore.SagaCompensationFailed {
		o.publishCompensationFailed(ctx, sagaID, traceID, events)
	}
	o.metrics.RecordSagaRun(ctx, false, time.Since(start))
	return Result{SagaID: sagaID, Status: finalStatus, Events: events}, nil
}

// publishCompensationFailed emits the alert-worthy audit record for a
// Saga that settled CompensationFailed (§4.4.3), mirroring
// governance.Gate's nil-safe-bus-then-publish pattern.
func (o *Orchestrator) publishCompensationFailed(ctx context.Context, sagaID, traceID string, events []eventstore.EventRecord) {
	if o.bus == nil {
		return
	}

	var lastEventID string
	failedSteps := make([]string, 0)
	for _, e := range events {
		lastEventID = e.EventID
		if e.Status == eventstore.EventFail {
			failedSteps = append(failedSteps, e.StepID)
		}
	}

	evt := audit.New("saga.compensation_failed", "saga", "", map[string]any{
		"saga_id":      sagaID,
		"trace_id":     traceID,
		"failed_steps": failedSteps,
	}, audit.WithCorrelationID(sagaID), audit.WithCausationID(lastEventID))

	if err := o.bus.Publish(ctx, evt); err != nil {
		o.logger.Warn("saga audit publish failed", "saga_id", sagaID, "error", err)
	}
}

func (o *Orchestrator) appendCompensationEvent(ctx context.Context, sagaID, traceID string, step StepSpec, status eventstore.EventStatus, errMsg string) {
	_, err := o.store.AppendEvent(ctx, eventstore.EventRecord{
		SagaID: sagaID, TraceID: traceID, StepID: step.StepID,
		Status: status, StartedAt: time.Now().UTC(), Error: errMsg,
	})
	if err != nil {
		observability.LogEventAppendError(o.logger, sagaID, string(status), err)
	}
}

// Abort marks a Saga Aborted and, per policy, triggers compensation for
// whatever prefix had already succeeded.
func (o *Orchestrator) Abort(ctx context.Context, sagaID, reason string) error {
	saga, err := o.store.GetSaga(ctx, sagaID)
	if err != nil {
		return err
	}

	var steps []StepSpec
	if err := json.Unmarshal(saga.StepsJSON, &steps); err != nil {
		return uds3errors.CorruptEventLog(err, sagaID)
	}
	events, err := o.store.ListEvents(ctx, sagaID)
	if err != nil {
		return err
	}
	executed := successfulPrefix(steps, events)

	if err := o.store.UpdateSagaStatus(ctx, sagaID, eventstore.SagaAborted, time.Now().UTC()); err != nil {
		return err
	}
	o.logger.Info("saga aborted", "saga_id", sagaID, "reason", reason)

	if len(executed) == 0 {
		return nil
	}
	return o.Compensate(ctx, sagaID, executed)
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	jittered := d + time.Duration(rand.Int64N(int64(d)/4+1))
	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func nextBackoff(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > max {
		return max
	}
	return next
}
