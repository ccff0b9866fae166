package pipeline

import (
	"context"
	"time"

	"github.com/blackmichael/bluesky-modlists/internal/metrics"
)

const (
	superviseInterval  = 5 * time.Second
	compactionInterval = 5 * time.Minute

	// Compaction only runs while the schedule queue is near-empty, so the
	// firehose is not racing the de-duplication pass.
	compactionScheduleMax = 100
)

type slot struct {
	done chan struct{}
}

type pool struct {
	name  string
	slots []*slot
	work  func(ctx context.Context, workerID int)
}

func newPool(name string, size int, work func(ctx context.Context, workerID int)) *pool {
	return &pool{
		name:  name,
		slots: make([]*slot, size),
		work:  work,
	}
}

func (pl *pool) spawn(ctx context.Context, p *Pipeline, i int) {
	s := &slot{done: make(chan struct{})}
	pl.slots[i] = s
	go func() {
		defer close(s.done)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker panicked", "pool", pl.name, "worker", i, "panic", r)
			}
		}()
		pl.work(ctx, i)
	}()
}

func (s *slot) dead() bool {
	if s == nil {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Run starts the three worker pools and supervises them until the context is
// cancelled: every 5 s dead slots are respawned and queue depths logged;
// every 5 min the query queue is compacted if it is over the watermark. On
// cancellation the queues are cleared and closed so every worker exits.
func (p *Pipeline) Run(ctx context.Context) {
	pools := []*pool{
		newPool("scheduler", p.cfg.NumSchedulers, p.runScheduler),
		newPool("resolver", p.cfg.NumResolvers, p.runResolver),
		newPool("reconciler", p.cfg.NumReconcilers, p.runReconciler),
	}

	for _, pl := range pools {
		for i := range pl.slots {
			pl.spawn(ctx, p, i)
		}
		p.logger.Info("worker pool started", "pool", pl.name, "size", len(pl.slots))
	}

	supervise := time.NewTicker(superviseInterval)
	defer supervise.Stop()
	compact := time.NewTicker(compactionInterval)
	defer compact.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down pipeline")
			p.queues.ClearAll()
			p.queues.CloseAll()
			return

		case <-supervise.C:
			for _, pl := range pools {
				for i, s := range pl.slots {
					if s.dead() {
						p.logger.Warn("respawning worker", "pool", pl.name, "worker", i)
						metrics.WorkerRestarts.WithLabelValues(pl.name).Inc()
						pl.spawn(ctx, p, i)
					}
				}
			}
			p.logQueueDepths()

		case <-compact.C:
			p.compactQueryQueue()
		}
	}
}

func (p *Pipeline) logQueueDepths() {
	schedule := p.queues.Schedule.Len()
	query := p.queues.Query.Len()
	listadd := p.queues.Listadd.Len()

	p.logger.Info("queue depths",
		"schedule", schedule,
		"query", query,
		"listadd", listadd,
	)
	metrics.QueueDepth.WithLabelValues("schedule").Set(float64(schedule))
	metrics.QueueDepth.WithLabelValues("query").Set(float64(query))
	metrics.QueueDepth.WithLabelValues("listadd").Set(float64(listadd))
}

// compactQueryQueue de-duplicates the query queue when a firehose burst has
// outrun the resolver pool. Order is preserved; nothing is lost.
func (p *Pipeline) compactQueryQueue() {
	if p.queues.Schedule.Len() >= compactionScheduleMax {
		return
	}
	before := p.queues.Query.Len()
	if before <= p.cfg.CompactionWatermark {
		return
	}

	items := p.queues.Query.Drain()
	seen := make(map[string]struct{}, len(items))
	kept := 0
	for _, did := range items {
		if _, dup := seen[did]; dup {
			continue
		}
		seen[did] = struct{}{}
		p.queues.Query.Push(did)
		kept++
	}

	p.logger.Info("compacted query queue", "drained", len(items), "kept", kept)
}
