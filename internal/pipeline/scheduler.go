package pipeline

import (
	"context"

	"github.com/blackmichael/bluesky-modlists/internal/metrics"
)

// runScheduler decides, per observed DID, whether the cached snapshot can
// stand in for a resolve. Fresh profiles go straight to the reconciler;
// everything else is queued for the resolver pool.
func (p *Pipeline) runScheduler(ctx context.Context, workerID int) {
	logger := p.logger.With("stage", "scheduler", "worker", workerID)

	for {
		did, ok := p.queues.Schedule.Pop()
		if !ok || ctx.Err() != nil {
			return
		}

		profile, err := p.cache.SkipFetch(ctx, did)
		if err != nil {
			logger.Error("cache lookup failed", "did", did, "error", err)
			continue
		}

		if profile == nil {
			p.queues.Query.Push(did)
			continue
		}

		if profile.Handle == "" {
			// A cached row without a handle cannot be classified; the next
			// stale cycle will re-resolve it.
			logger.Error("cached profile missing handle", "did", did)
			continue
		}

		metrics.CacheSkips.Inc()
		p.queues.Listadd.Push(profile)
	}
}
