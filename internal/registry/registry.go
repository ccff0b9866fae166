// Package registry keeps the authoritative in-process mirror of remote list
// memberships and mediates every membership write. It is the only component
// that creates or deletes listitem records at runtime.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blackmichael/bluesky-modlists/internal/domain"
	"github.com/blackmichael/bluesky-modlists/internal/metrics"
	"github.com/blackmichael/bluesky-modlists/internal/words"
)

// List is the compiled runtime state for one moderation list. Mutating
// operations serialize on mu; the remote write happens under the lock so a
// membership is never created twice.
type List struct {
	Rule    domain.ListRule
	Matcher *words.Matcher // non-nil for RuleWords lists

	mu         sync.Mutex
	uri        string
	entries    map[string]string // did → rkey
	exceptions map[string]struct{}
}

// Registry maps list keys to their compiled state. The set of lists is fixed
// after construction; only per-list membership state changes at runtime.
type Registry struct {
	lists  []*List
	byKey  map[string]*List
	logger *slog.Logger
}

// New compiles the configured rules into a registry, loading word lists and
// exception files. Rule order is preserved; follow-count rules are expected
// in ascending threshold order.
func New(rules []domain.ListRule, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		byKey:  make(map[string]*List, len(rules)),
		logger: logger,
	}

	for _, rule := range rules {
		l := &List{
			Rule:       rule,
			entries:    make(map[string]string),
			exceptions: make(map[string]struct{}),
		}

		if rule.Kind == domain.RuleWords {
			matcher, err := words.LoadMatcher(rule.WordsFile)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", rule.Key, err)
			}
			l.Matcher = matcher
		}

		if rule.ExceptionsFile != "" {
			dids, err := words.LoadLines(rule.ExceptionsFile)
			if err != nil {
				return nil, fmt.Errorf("list %s exceptions: %w", rule.Key, err)
			}
			for _, did := range dids {
				l.exceptions[did] = struct{}{}
			}
		}

		r.lists = append(r.lists, l)
		r.byKey[rule.Key] = l
	}

	return r, nil
}

// Lists returns the compiled lists in configured order.
func (r *Registry) Lists() []*List {
	return r.lists
}

// Get returns the list for a key, or nil.
func (r *Registry) Get(key string) *List {
	return r.byKey[key]
}

// SetURI records the remote list identifier resolved at bootstrap.
func (l *List) SetURI(uri string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uri = uri
}

// URI returns the remote list identifier.
func (l *List) URI() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.uri
}

// SetEntries replaces the membership mirror, used at bootstrap with the
// authoritative remote state.
func (l *List) SetEntries(entries []domain.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]string, len(entries))
	for _, e := range entries {
		l.entries[e.DID] = e.RKey
	}
}

// Entries returns a snapshot of the membership mirror.
func (l *List) Entries() []domain.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]domain.Entry, 0, len(l.entries))
	for did, rkey := range l.entries {
		entries = append(entries, domain.Entry{DID: did, RKey: rkey})
	}
	return entries
}

// Present reports whether the DID is in the membership mirror.
func (l *List) Present(did string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[did]
	return ok
}

// Excepted reports whether the DID is permanently excluded from this list.
func (l *List) Excepted(did string) bool {
	_, ok := l.exceptions[did]
	return ok
}

// Add creates the membership remotely and mirrors it, unless the DID is
// already present or excepted. The api client belongs to the calling worker.
func (r *Registry) Add(ctx context.Context, api domain.ListAPI, key, did string) error {
	l := r.byKey[key]
	if l == nil {
		return fmt.Errorf("unknown list: %s", key)
	}
	if l.Excepted(did) {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[did]; ok {
		return nil
	}

	rkey, err := api.CreateMember(ctx, l.uri, did)
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", did, key, err)
	}

	l.entries[did] = rkey
	metrics.ListWrites.WithLabelValues(key, "add").Inc()
	r.logger.Info("added to list", "list", key, "did", did, "rkey", rkey)
	return nil
}

// Remove deletes the membership remotely and drops it from the mirror, if
// present.
func (r *Registry) Remove(ctx context.Context, api domain.ListAPI, key, did string) error {
	l := r.byKey[key]
	if l == nil {
		return fmt.Errorf("unknown list: %s", key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rkey, ok := l.entries[did]
	if !ok {
		return nil
	}

	if err := api.DeleteMember(ctx, rkey); err != nil {
		return fmt.Errorf("remove %s from %s: %w", did, key, err)
	}

	delete(l.entries, did)
	metrics.ListWrites.WithLabelValues(key, "remove").Inc()
	r.logger.Info("removed from list", "list", key, "did", did, "rkey", rkey)
	return nil
}

// RemoveFromAll removes the DID from every list it is present in.
func (r *Registry) RemoveFromAll(ctx context.Context, api domain.ListAPI, did string) error {
	for _, l := range r.lists {
		if err := r.Remove(ctx, api, l.Rule.Key, did); err != nil {
			return err
		}
	}
	return nil
}
