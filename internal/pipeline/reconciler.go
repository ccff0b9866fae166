package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/blackmichael/bluesky-modlists/internal/domain"
)

// runReconciler applies the classification rules to each forwarded profile
// and converges every list toward the computed decision. All membership
// writes go through the registry, which makes them idempotent.
func (p *Pipeline) runReconciler(ctx context.Context, workerID int) {
	logger := p.logger.With("stage", "reconciler", "worker", workerID)

	writer, err := p.newWriter(ctx)
	if err != nil {
		logger.Error("authentication failed", "error", err)
		return
	}

	for {
		profile, ok := p.queues.Listadd.Pop()
		if !ok || ctx.Err() != nil {
			return
		}
		p.reconcile(ctx, logger, writer, profile)
	}
}

// reconcile runs every rule against one profile. A failed write for one list
// does not stop the remaining rules; the next observation of the DID re-runs
// the whole set.
func (p *Pipeline) reconcile(
	ctx context.Context,
	logger *slog.Logger,
	writer domain.ListAPI,
	profile *domain.Profile,
) {
	did := profile.DID

	for _, l := range p.reg.Lists() {
		var want bool
		switch l.Rule.Kind {
		case domain.RuleFollows:
			want = profile.FollowsCount >= l.Rule.Threshold

		case domain.RuleFollowsUnverified:
			if !strings.HasSuffix(profile.Handle, p.cfg.DefaultHandleSuffix) {
				// Verified-domain accounts are left untouched by these
				// lists, present or not.
				continue
			}
			want = profile.FollowsCount >= l.Rule.Threshold

		case domain.RuleFollowers:
			want = profile.FollowersCount >= l.Rule.Threshold
			if want {
				logger.Debug("follower threshold met",
					"list", l.Rule.Key,
					"did", did,
					"followers_count", profile.FollowersCount,
					"followers_limit", l.Rule.Threshold,
				)
			}

		case domain.RuleWords:
			want = profile.Description != nil && l.Matcher.Match(profile)
		}

		if l.Excepted(did) {
			want = false
		}

		var err error
		if want {
			err = p.reg.Add(ctx, writer, l.Rule.Key, did)
		} else {
			err = p.reg.Remove(ctx, writer, l.Rule.Key, did)
		}
		if err != nil {
			logger.Error("list reconcile failed", "list", l.Rule.Key, "did", did, "error", err)
		}
	}
}
