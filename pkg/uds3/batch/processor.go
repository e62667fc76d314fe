// Package batch implements the Adaptive Batch Processor: a bounded-
// latency, backpressure-aware queue that converts a high-rate stream of
// small operations into adaptively sized batches for one backend,
// durable against crashes via a recovery log.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/backend"
	batchrecovery "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/batch_recovery"
	uds3errors "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/errors"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/observability"
)

// FlushFunc dispatches one batch of items to a backend. Items are in
// submission order; a FlushFunc must preserve that order within the
// batch it receives, since no ordering guarantee is made across
// batches. The backend operation it wraps must be upsert-semantics so
// recovery-log replay is idempotent.
type FlushFunc func(ctx context.Context, items []Item) error

// Option configures a Processor at construction.
type Option func(*Processor)

// WithSettings overrides the default sizing/backpressure settings.
func WithSettings(s Settings) Option {
	return func(p *Processor) { p.settings = s }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithRetry overrides the retry policy applied to a single flush call
// before it is treated as a durable failure and persisted for replay.
func WithRetry(cfg uds3errors.RetryConfig) Option {
	return func(p *Processor) { p.retry = cfg }
}

// Processor is a single-consumer/many-producer queue: any number of
// goroutines call Submit concurrently, while exactly one background
// goroutine owns the queue and the control loop. A second background
// goroutine, the recovery loop, replays the recovery log and calls
// flush and the recovery store on its own.
type Processor struct {
	id            string
	kind          backend.Kind
	flush         FlushFunc
	recoveryStore batchrecovery.Store
	logger        *slog.Logger
	metrics       observability.MetricsRecorder

	settings Settings
	retry    uds3errors.RetryConfig
	sizer    *sizer

	submitCh       chan Item
	flushReqCh     chan chan FlushResult
	shutdownCh     chan chan FlushResult
	recoverReqCh   chan chan int
	doneCh         chan struct{}
	recoveryDoneCh chan struct{}
	started        bool
	startOnce      sync.Once

	mu  sync.Mutex
	seq int

	// depth tracks items that have been accepted but not yet committed,
	// persisted, or counted Failed. Submit consults it directly rather
	// than the channel's buffer occupancy, since the channel drains into
	// run()'s queue slice far faster than batches actually flush.
	depth atomicCounter

	submitted atomicCounter
	committed atomicCounter
	failed    atomicCounter
	recovered atomicCounter
}

// NewProcessor creates a Processor for one backend kind. flush performs
// the actual write; recoveryStore may be nil to disable crash recovery
// (tests only — production wiring always supplies a batchrecovery.Store).
func NewProcessor(id string, kind backend.Kind, flush FlushFunc, recoveryStore batchrecovery.Store, opts ...Option) *Processor {
	p := &Processor{
		id:             id,
		kind:           kind,
		flush:          flush,
		recoveryStore:  recoveryStore,
		settings:       DefaultSettings,
		retry:          uds3errors.DefaultRetry,
		submitCh:       nil, // sized in Start once settings are final
		flushReqCh:     make(chan chan FlushResult),
		shutdownCh:     make(chan chan FlushResult),
		recoverReqCh:   make(chan chan int),
		doneCh:         make(chan struct{}),
		recoveryDoneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observability.NoopMetrics{}
	}
	p.sizer = newSizer(p.settings)
	p.submitCh = make(chan Item, p.settings.HighWatermark)
	return p
}

// Start launches the background worker and, if a recovery store is
// configured, the periodic replay task. Safe to call once; subsequent
// calls are no-ops.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started = true
		go p.run(ctx)
		if p.recoveryStore != nil {
			go p.recoveryLoop(ctx)
		}
	})
}

// Submit enqueues item, never blocking the caller. It rejects with a
// QueueFull error once the number of accepted-but-unresolved items is
// at settings.HighWatermark. depth, not the hand-off channel's buffer
// occupancy, is the authoritative queue size: a channel send only
// measures how fast run() pulls items off the wire, not how many are
// still waiting on an actual flush.
func (p *Processor) Submit(item Item) SubmitResult {
	if p.depth.load() >= int64(p.settings.HighWatermark) {
		return SubmitResult{Accepted: false, Reason: uds3errors.QueueFull(
			fmt.Errorf("batcher %s: queue at high watermark (%d)", p.id, p.settings.HighWatermark), p.id)}
	}

	item.submittedAt = time.Now()
	p.depth.add(1)
	select {
	case p.submitCh <- item:
		p.submitted.add(1)
		p.metrics.RecordQueueDepth(context.Background(), p.depth.load())
		return SubmitResult{Accepted: true}
	default:
		p.depth.add(-1)
		return SubmitResult{Accepted: false, Reason: uds3errors.QueueFull(
			fmt.Errorf("batcher %s: queue at high watermark (%d)", p.id, p.settings.HighWatermark), p.id)}
	}
}

// Flush forces a drain of everything currently queued and blocks until
// it completes or timeout elapses.
func (p *Processor) Flush(ctx context.Context, timeout time.Duration) FlushResult {
	respCh := make(chan FlushResult, 1)
	select {
	case p.flushReqCh <- respCh:
	case <-time.After(timeout):
		return FlushResult{Err: fmt.Errorf("batcher %s: flush request timed out", p.id)}
	case <-ctx.Done():
		return FlushResult{Err: ctx.Err()}
	}
	select {
	case res := <-respCh:
		return res
	case <-time.After(timeout):
		return FlushResult{Err: fmt.Errorf("batcher %s: flush timed out waiting for drain", p.id)}
	}
}

// Shutdown drains every queued item and stops the background worker.
// Per the public contract, every accepted item is guaranteed committed,
// persisted in the recovery log, or counted as Failed before Shutdown
// returns.
func (p *Processor) Shutdown(ctx context.Context, drainTimeout time.Duration) FlushResult {
	if !p.started {
		close(p.doneCh)
		close(p.recoveryDoneCh)
		return FlushResult{}
	}
	respCh := make(chan FlushResult, 1)
	select {
	case p.shutdownCh <- respCh:
	case <-time.After(drainTimeout):
		return FlushResult{Err: fmt.Errorf("batcher %s: shutdown request timed out", p.id)}
	case <-ctx.Done():
		return FlushResult{Err: ctx.Err()}
	}
	select {
	case res := <-respCh:
		<-p.doneCh
		// doneCh closing only guarantees run()'s own drain finished; wait
		// for recoveryLoop's matching final replayOnce pass too, so I7
		// holds for recovery-log items as well as queued ones.
		if p.recoveryStore != nil {
			<-p.recoveryDoneCh
		}
		return res
	case <-time.After(drainTimeout):
		return FlushResult{Err: fmt.Errorf("batcher %s: shutdown timed out waiting for drain", p.id)}
	}
}

// Counters returns a point-in-time snapshot of the observable counters
// and gauges §4.3 Observability names.
func (p *Processor) Counters() Counters {
	return Counters{
		ItemsSubmitted:   p.submitted.load(),
		ItemsCommitted:   p.committed.load(),
		ItemsFailed:      p.failed.load(),
		ItemsRecovered:   p.recovered.load(),
		QueueSize:        int(p.depth.load()),
		CurrentBatchSize: p.sizer.current(),
	}
}

// TriggerRecovery forces one immediate replay pass over the recovery
// log instead of waiting for the next tick, returning the number of
// items successfully recovered. No-op if recovery is disabled.
func (p *Processor) TriggerRecovery(ctx context.Context, timeout time.Duration) int {
	if p.recoveryStore == nil {
		return 0
	}
	respCh := make(chan int, 1)
	select {
	case p.recoverReqCh <- respCh:
	case <-time.After(timeout):
		return 0
	case <-ctx.Done():
		return 0
	}
	select {
	case n := <-respCh:
		return n
	case <-time.After(timeout):
		return 0
	}
}

// run is the single background consumer: it owns the queue slice
// outright, so no mutex guards it (only the shared counters/sizer,
// which have their own synchronization, cross goroutine boundaries).
func (p *Processor) run(ctx context.Context) {
	defer close(p.doneCh)

	queue := make([]Item, 0, p.settings.BMin)
	linger := time.NewTicker(lingerTickInterval(p.settings))
	defer linger.Stop()
	control := time.NewTicker(p.settings.ControlTick)
	defer control.Stop()

	for {
		select {
		case item := <-p.submitCh:
			queue = append(queue, item)
			if len(queue) >= p.sizer.current() {
				queue, _ = p.flushTrigger(ctx, queue)
			}

		case <-linger.C:
			if len(queue) > 0 {
				oldest := queue[0].submittedAt
				if time.Since(oldest) >= time.Duration(p.settings.MaxLingerMs)*time.Millisecond {
					queue, _ = p.flushAll(ctx, queue)
				}
			}

		case <-control.C:
			p.sizer.controlTick()

		case respCh := <-p.flushReqCh:
			var flushed int
			queue, flushed = p.flushAll(ctx, queue)
			respCh <- FlushResult{ItemsFlushed: flushed}

		case respCh := <-p.shutdownCh:
			var flushed int
			queue = p.drainSubmitCh(queue)
			queue, flushed = p.flushAll(ctx, queue)
			respCh <- FlushResult{ItemsFlushed: flushed}
			return

		case <-ctx.Done():
			queue = p.drainSubmitCh(queue)
			queue, _ = p.flushAll(ctx, queue)
			return
		}
	}
}

// drainSubmitCh folds in whatever is already queued on the channel at
// shutdown time without blocking, so a racing Submit that lands before
// the channel is abandoned still gets flushed, persisted, or counted.
func (p *Processor) drainSubmitCh(queue []Item) []Item {
	for {
		select {
		case item := <-p.submitCh:
			queue = append(queue, item)
		default:
			return queue
		}
	}
}

// flushTrigger cuts exactly one batch of the current target size B off
// the front of queue and dispatches it, leaving any remainder queued.
// Returns the remaining queue and how many items were just dispatched.
func (p *Processor) flushTrigger(ctx context.Context, queue []Item) ([]Item, int) {
	b := p.sizer.current()
	if b > len(queue) {
		b = len(queue)
	}
	batch := queue[:b]
	rest := append([]Item(nil), queue[b:]...)
	p.dispatch(ctx, batch)
	return rest, len(batch)
}

// flushAll drains queue down to empty, one B-sized batch at a time,
// returning the total number of items dispatched.
func (p *Processor) flushAll(ctx context.Context, queue []Item) ([]Item, int) {
	total := 0
	for len(queue) > 0 {
		var n int
		queue, n = p.flushTrigger(ctx, queue)
		total += n
	}
	return queue, total
}

// dispatch executes one batch through flush, retrying per p.retry,
// then either counts it committed or persists it to the recovery log.
func (p *Processor) dispatch(ctx context.Context, batch []Item) {
	if len(batch) == 0 {
		return
	}
	defer p.depth.add(-int64(len(batch)))

	start := time.Now()
	result := uds3errors.WithRetryContext(ctx, p.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.flush(ctx, batch)
	})
	latency := time.Since(start)
	err := result.Err

	p.sizer.recordFlush(len(batch), latency, err)
	p.metrics.RecordBatchFlush(ctx, p.kind.String(), len(batch), latency, err)

	if err == nil {
		p.committed.add(int64(len(batch)))
		p.logger.Debug("batch flushed",
			slog.String("batcher_id", p.id),
			slog.String("backend_kind", p.kind.String()),
			slog.Int("size", len(batch)),
			slog.Duration("latency", latency),
		)
		return
	}

	p.logger.Warn("batch flush exhausted retries, persisting to recovery log",
		slog.String("batcher_id", p.id),
		slog.Int("size", len(batch)),
		slog.Int("attempts", result.Attempts),
		slog.String("error", err.Error()),
	)
	p.persistForRecovery(batch)
}

// persistForRecovery appends every item in a failed batch to the
// recovery log keyed by content digest (invariant I7). If no store is
// configured, or a save itself fails, the item is counted Failed
// instead so it is never silently dropped.
func (p *Processor) persistForRecovery(batch []Item) {
	for _, item := range batch {
		if p.recoveryStore == nil {
			p.failed.add(1)
			continue
		}
		payload, err := json.Marshal(item.Payload)
		if err != nil {
			p.failed.add(1)
			continue
		}
		digest := batchrecovery.Digest(payload)
		p.mu.Lock()
		p.seq++
		seq := p.seq
		p.mu.Unlock()

		entry := batchrecovery.New(p.id, digest, seq, payload)
		data, err := entry.Marshal()
		if err != nil {
			p.failed.add(1)
			continue
		}
		if err := p.recoveryStore.Save(p.id, digest, data); err != nil {
			p.logger.Error("recovery log save failed, item lost",
				slog.String("batcher_id", p.id), slog.String("digest", digest), slog.String("error", err.Error()))
			p.failed.add(1)
		}
	}
}

func lingerTickInterval(s Settings) time.Duration {
	d := time.Duration(s.MaxLingerMs) * time.Millisecond / 4
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
