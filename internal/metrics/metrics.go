// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth tracks the depth of the three pipeline queues.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "modlistd_queue_depth",
		Help: "Current depth of a pipeline work queue.",
	}, []string{"queue"})

	// ProfilesResolved counts profiles fetched from the remote API.
	ProfilesResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modlistd_profiles_resolved_total",
		Help: "Profiles fetched from the remote API and written to the cache.",
	})

	// CacheSkips counts scheduler decisions served from the fresh cache.
	CacheSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modlistd_cache_skips_total",
		Help: "Observed DIDs whose resolve was skipped by a fresh cache row.",
	})

	// ListWrites counts membership mutations by list and operation.
	ListWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modlistd_list_writes_total",
		Help: "List membership records created or deleted.",
	}, []string{"list", "op"})

	// WorkerRestarts counts supervisor respawns by pool.
	WorkerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modlistd_worker_restarts_total",
		Help: "Workers respawned by the supervisor after termination.",
	}, []string{"pool"})
)

// Serve exposes /metrics on addr until ctx is cancelled. It blocks.
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics listener exited with error", "error", err)
	}
}
