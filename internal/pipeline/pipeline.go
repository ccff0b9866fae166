// Package pipeline is the ingestion-to-reconciliation core: three worker
// pools (schedule → resolve → reconcile) joined by unbounded queues, policed
// by a supervisor that respawns dead workers and compacts queue backlogs.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/blackmichael/bluesky-modlists/internal/config"
	"github.com/blackmichael/bluesky-modlists/internal/domain"
	"github.com/blackmichael/bluesky-modlists/internal/registry"
)

// WriterFactory builds an authenticated client for one worker. Clients are
// per-worker so token refresh never contends across workers.
type WriterFactory func(ctx context.Context) (domain.ListAPI, error)

// ReaderFactory builds an anonymous client for public profile reads.
type ReaderFactory func() domain.ProfileAPI

// Pipeline owns the queues, worker pools, and shared state of the daemon.
type Pipeline struct {
	cfg    *config.Config
	cache  domain.ProfileCache
	reg    *registry.Registry
	queues *Queues
	logger *slog.Logger

	newWriter WriterFactory
	newReader ReaderFactory
}

// New wires a pipeline. The cache and registry are process-wide singletons
// constructed at bootstrap; clients are created per worker via the factories.
func New(
	cfg *config.Config,
	cache domain.ProfileCache,
	reg *registry.Registry,
	queues *Queues,
	newWriter WriterFactory,
	newReader ReaderFactory,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		cache:     cache,
		reg:       reg,
		queues:    queues,
		logger:    logger,
		newWriter: newWriter,
		newReader: newReader,
	}
}

// Queues exposes the pipeline's work queues.
func (p *Pipeline) Queues() *Queues {
	return p.queues
}
