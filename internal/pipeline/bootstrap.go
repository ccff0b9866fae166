package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/blackmichael/bluesky-modlists/internal/registry"
)

// Bootstrap reconciles the registry with the network's authoritative state:
// each configured list is found or created remotely and its membership
// mirror loaded. Every known member is then seeded into the schedule queue
// so accounts that no longer qualify are caught, optionally followed by a
// full cache rescan.
func (p *Pipeline) Bootstrap(ctx context.Context) error {
	discovery, err := p.newWriter(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap login: %w", err)
	}

	remote, err := discovery.ListMyLists(ctx)
	if err != nil {
		return fmt.Errorf("list published lists: %w", err)
	}
	uriByName := make(map[string]string, len(remote))
	for _, ref := range remote {
		uriByName[ref.Name] = ref.URI
	}

	lists := p.reg.Lists()
	var wg sync.WaitGroup
	errCh := make(chan error, len(lists))
	for _, l := range lists {
		wg.Add(1)
		go func(l *registry.List) {
			defer wg.Done()
			if err := p.bootstrapList(ctx, l, uriByName[l.Rule.Name]); err != nil {
				errCh <- err
			}
		}(l)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return err
	}

	p.seed(ctx)
	return nil
}

func (p *Pipeline) bootstrapList(ctx context.Context, l *registry.List, uri string) error {
	// Clients are not concurrent-safe; each list goroutine gets its own.
	api, err := p.newWriter(ctx)
	if err != nil {
		return fmt.Errorf("list %s login: %w", l.Rule.Key, err)
	}

	if uri == "" {
		uri, err = api.CreateList(ctx, l.Rule.Name, l.Rule.Description)
		if err != nil {
			return fmt.Errorf("list %s: %w", l.Rule.Key, err)
		}
		p.logger.Info("created list", "list", l.Rule.Key, "uri", uri)
	}
	l.SetURI(uri)

	entries, err := api.ListMembers(ctx, uri)
	if err != nil {
		return fmt.Errorf("list %s members: %w", l.Rule.Key, err)
	}
	l.SetEntries(entries)

	p.logger.Info("loaded list", "list", l.Rule.Key, "members", len(entries))
	return nil
}

// seed enqueues every known list member for re-evaluation, then every cached
// DID if a rescan was requested. Duplicates across lists are collapsed; the
// pipeline tolerates the rest.
func (p *Pipeline) seed(ctx context.Context) {
	seen := make(map[string]struct{})
	for _, l := range p.reg.Lists() {
		for _, e := range l.Entries() {
			if _, dup := seen[e.DID]; dup {
				continue
			}
			seen[e.DID] = struct{}{}
			p.queues.Schedule.Push(e.DID)
		}
	}
	p.logger.Info("seeded list members for rescan", "dids", len(seen))

	if !p.cfg.RescanCache {
		return
	}

	cached := 0
	err := p.cache.ScanDIDs(ctx, func(did string) error {
		if _, dup := seen[did]; !dup {
			p.queues.Schedule.Push(did)
			cached++
		}
		return nil
	})
	if err != nil {
		p.logger.Error("cache rescan failed", "error", err)
		return
	}
	p.logger.Info("seeded cached profiles for rescan", "dids", cached)
}
