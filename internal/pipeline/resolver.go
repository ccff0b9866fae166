package pipeline

import (
	"context"
	"log/slog"

	"github.com/blackmichael/bluesky-modlists/internal/bluesky"
	"github.com/blackmichael/bluesky-modlists/internal/domain"
	"github.com/blackmichael/bluesky-modlists/internal/metrics"
)

const maxBatch = 25

// runResolver drains the query queue in batches of up to 25 unique DIDs,
// fetches their profiles, writes them to the cache, and forwards them to the
// reconciler pool.
func (p *Pipeline) runResolver(ctx context.Context, workerID int) {
	logger := p.logger.With("stage", "resolver", "worker", workerID)

	reader := p.newReader()
	writer, err := p.newWriter(ctx)
	if err != nil {
		// The supervisor respawns this slot, which retries the login.
		logger.Error("authentication failed", "error", err)
		return
	}

	for {
		batch, ok := p.collectBatch(ctx, logger)
		if !ok || ctx.Err() != nil {
			return
		}
		if len(batch) == 0 {
			continue
		}
		p.resolveBatch(ctx, logger, reader, writer, batch)
	}
}

// collectBatch blocks for the first queued DID, then drains without blocking
// until the batch is full or the queue empties. Each DID is re-checked
// against the cache: a sibling worker may have resolved it since it was
// enqueued. Returns ok=false once the queue is closed.
func (p *Pipeline) collectBatch(ctx context.Context, logger *slog.Logger) ([]string, bool) {
	first, ok := p.queues.Query.Pop()
	if !ok {
		return nil, false
	}

	seen := make(map[string]struct{}, maxBatch)
	batch := make([]string, 0, maxBatch)

	consider := func(did string) {
		if _, dup := seen[did]; dup {
			return
		}
		seen[did] = struct{}{}

		profile, err := p.cache.SkipFetch(ctx, did)
		if err != nil {
			logger.Error("cache lookup failed", "did", did, "error", err)
		}
		if profile != nil {
			p.queues.Listadd.Push(profile)
			return
		}
		batch = append(batch, did)
	}

	consider(first)
	for len(batch) < maxBatch {
		did, more := p.queues.Query.TryPop()
		if !more {
			break
		}
		consider(did)
	}
	return batch, true
}

func (p *Pipeline) resolveBatch(
	ctx context.Context,
	logger *slog.Logger,
	reader domain.ProfileAPI,
	writer domain.ListAPI,
	batch []string,
) {
	profiles, err := reader.GetProfiles(ctx, batch)
	if err != nil {
		// The client has already retried transient failures with backoff;
		// re-enqueue so the batch is never dropped silently.
		logger.Error("batch resolve failed", "batch_size", len(batch), "error", err)
		if bluesky.IsTransient(err) {
			for _, did := range batch {
				p.queues.Query.Push(did)
			}
		}
		return
	}

	returned := make(map[string]struct{}, len(profiles))
	for _, profile := range profiles {
		if profile == nil || profile.DID == "" {
			continue
		}
		returned[profile.DID] = struct{}{}

		if err := p.cache.Put(ctx, profile.DID, profile); err != nil {
			// The reconciler only sees profiles whose cache write landed.
			logger.Error("cache write failed", "did", profile.DID, "error", err)
			continue
		}
		metrics.ProfilesResolved.Inc()
		p.queues.Listadd.Push(profile)
	}

	for _, did := range batch {
		if _, ok := returned[did]; !ok {
			p.probeMissing(ctx, logger, reader, writer, did)
		}
	}
}

// probeMissing resolves a DID the batch call omitted. getProfiles skips
// unresolvable actors rather than failing, so a single getProfile is needed
// to learn why. Deactivated, taken-down, and vanished accounts are purged
// from every list and from the cache.
func (p *Pipeline) probeMissing(
	ctx context.Context,
	logger *slog.Logger,
	reader domain.ProfileAPI,
	writer domain.ListAPI,
	did string,
) {
	_, err := reader.GetProfile(ctx, did)
	if err == nil {
		logger.Warn("profile omitted from batch but resolvable", "did", did)
		return
	}

	if !bluesky.IsTerminalAccount(err) {
		logger.Error("profile probe failed", "did", did, "error", err)
		return
	}

	logger.Info("account gone, purging", "did", did, "error", err)
	if err := p.reg.RemoveFromAll(ctx, writer, did); err != nil {
		logger.Error("purge from lists failed", "did", did, "error", err)
		return
	}
	if err := p.cache.Delete(ctx, did); err != nil {
		logger.Error("cache delete failed", "did", did, "error", err)
	}
}
