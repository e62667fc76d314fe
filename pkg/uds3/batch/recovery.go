package batch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	batchrecovery "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/batch_recovery"
	uds3errors "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/errors"
)

// atomicCounter is a small wrapper so Processor's counter fields read
// as named fields rather than bare atomic.Int64s at every call site.
type atomicCounter struct {
	v atomic.Int64
}

func (c *atomicCounter) add(n int64) { c.v.Add(n) }
func (c *atomicCounter) load() int64 { return c.v.Load() }

// recoveryLoop periodically replays the recovery log against the
// backend, on its own goroutine, independent of the main queue worker.
// Replay relies on the wrapped backend operation being upsert-semantics,
// so re-submitting an already-committed item is harmless.
func (p *Processor) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(p.settings.RecoveryInterval)
	defer ticker.Stop()
	defer close(p.recoveryDoneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.doneCh:
			p.replayOnce(context.Background())
			return
		case <-ticker.C:
			p.replayOnce(ctx)
		case respCh := <-p.recoverReqCh:
			respCh <- p.replayOnce(ctx)
		}
	}
}

// replayOnce lists every pending recovery entry for this batcher and
// attempts to flush it. A permanently failing item is counted Failed
// and removed; a transiently failing one is left for the next cycle.
// Returns the number of items successfully recovered.
func (p *Processor) replayOnce(ctx context.Context) int {
	infos, err := p.recoveryStore.List(p.id)
	if err != nil {
		p.logger.Error("recovery list failed", slog.String("batcher_id", p.id), slog.String("error", err.Error()))
		return 0
	}
	if len(infos) == 0 {
		return 0
	}

	recovered := 0
	for _, info := range infos {
		data, err := p.recoveryStore.Load(p.id, info.Digest)
		if err != nil {
			continue
		}
		entry, err := batchrecovery.Unmarshal(data)
		if err != nil {
			p.logger.Error("recovery entry corrupt, dropping",
				slog.String("batcher_id", p.id), slog.String("digest", info.Digest), slog.String("error", err.Error()))
			_ = p.recoveryStore.Delete(p.id, info.Digest)
			p.failed.add(1)
			continue
		}

		item, err := decodeRecoveryItem(entry)
		if err != nil {
			p.logger.Error("recovery entry payload corrupt, dropping",
				slog.String("batcher_id", p.id), slog.String("digest", info.Digest), slog.String("error", err.Error()))
			_ = p.recoveryStore.Delete(p.id, info.Digest)
			p.failed.add(1)
			continue
		}

		flushErr := p.flush(ctx, []Item{item})
		if flushErr == nil {
			_ = p.recoveryStore.Delete(p.id, info.Digest)
			p.recovered.add(1)
			recovered++
			continue
		}

		if uds3errors.Categorize(flushErr) == uds3errors.KindPermanent {
			p.logger.Error("recovery replay permanently failed, giving up on item",
				slog.String("batcher_id", p.id), slog.String("digest", info.Digest), slog.String("error", flushErr.Error()))
			_ = p.recoveryStore.Delete(p.id, info.Digest)
			p.failed.add(1)
			continue
		}

		p.logger.Debug("recovery replay still failing, will retry next cycle",
			slog.String("batcher_id", p.id), slog.String("digest", info.Digest), slog.String("error", flushErr.Error()))
	}
	return recovered
}

func decodeRecoveryItem(entry *batchrecovery.Entry) (Item, error) {
	payload, err := unmarshalPayload(entry.Payload)
	if err != nil {
		return Item{}, err
	}
	id, _ := payload["id"].(string)
	return Item{ID: id, Payload: payload, submittedAt: entry.Timestamp}, nil
}
