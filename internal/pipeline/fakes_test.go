package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-modlists/internal/bluesky"
	"github.com/blackmichael/bluesky-modlists/internal/config"
	"github.com/blackmichael/bluesky-modlists/internal/domain"
	"github.com/blackmichael/bluesky-modlists/internal/registry"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCache is an in-memory ProfileCache with explicit freshness control.
type fakeCache struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	stale    map[string]bool
	puts     int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		profiles: make(map[string]*domain.Profile),
		stale:    make(map[string]bool),
	}
}

func (c *fakeCache) Get(ctx context.Context, did string) (*domain.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profiles[did], nil
}

func (c *fakeCache) Put(ctx context.Context, did string, p *domain.Profile) error {
	if p == nil {
		return fmt.Errorf("null profile write")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p.CachedAt = time.Now().UTC().Format(time.RFC3339)
	c.profiles[did] = p
	delete(c.stale, did)
	c.puts++
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, did string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, did)
	return nil
}

func (c *fakeCache) SkipFetch(ctx context.Context, did string) (*domain.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale[did] {
		return nil, nil
	}
	return c.profiles[did], nil
}

func (c *fakeCache) ScanDIDs(ctx context.Context, fn func(did string) error) error {
	c.mu.Lock()
	dids := make([]string, 0, len(c.profiles))
	for did := range c.profiles {
		dids = append(dids, did)
	}
	c.mu.Unlock()
	for _, did := range dids {
		if err := fn(did); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeCache) markStale(did string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[did] = true
}

func (c *fakeCache) has(did string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.profiles[did]
	return ok
}

// fakeAPI implements both ProfileAPI and ListAPI against in-memory state.
type fakeAPI struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	// perDIDErr is returned by GetProfile for that DID.
	perDIDErr map[string]error
	// batchErr fails the next GetProfiles calls entirely.
	batchErr error

	nextRKey     int
	batchCalls   int
	profileCalls int
	creates      int
	deletes      int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		profiles:  make(map[string]*domain.Profile),
		perDIDErr: make(map[string]error),
	}
}

func (a *fakeAPI) GetProfile(ctx context.Context, actor string) (*domain.Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profileCalls++
	if err := a.perDIDErr[actor]; err != nil {
		return nil, err
	}
	if p, ok := a.profiles[actor]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, &bluesky.APIError{Status: 400, Code: "InvalidRequest", Message: "Profile not found"}
}

func (a *fakeAPI) GetProfiles(ctx context.Context, dids []string) ([]*domain.Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batchCalls++
	if len(dids) > 25 {
		return nil, fmt.Errorf("batch too large: %d", len(dids))
	}
	seen := make(map[string]struct{}, len(dids))
	var out []*domain.Profile
	for _, did := range dids {
		if _, dup := seen[did]; dup {
			return nil, fmt.Errorf("duplicate did in batch: %s", did)
		}
		seen[did] = struct{}{}
		if p, ok := a.profiles[did]; ok {
			clone := *p
			out = append(out, &clone)
		}
	}
	if a.batchErr != nil {
		return nil, a.batchErr
	}
	return out, nil
}

func (a *fakeAPI) CreateList(ctx context.Context, name, description string) (string, error) {
	return "at://did:plc:me/app.bsky.graph.list/" + name, nil
}

func (a *fakeAPI) ListMyLists(ctx context.Context) ([]domain.ListRef, error) {
	return nil, nil
}

func (a *fakeAPI) ListMembers(ctx context.Context, listURI string) ([]domain.Entry, error) {
	return nil, nil
}

func (a *fakeAPI) CreateMember(ctx context.Context, listURI, did string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextRKey++
	a.creates++
	return fmt.Sprintf("rkey-%d", a.nextRKey), nil
}

func (a *fakeAPI) DeleteMember(ctx context.Context, rkey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes++
	return nil
}

func (a *fakeAPI) DeleteList(ctx context.Context, rkey string) error {
	return nil
}

func (a *fakeAPI) addProfile(p *domain.Profile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profiles[p.DID] = p
}

func testConfig() *config.Config {
	return &config.Config{
		NumSchedulers:       1,
		NumResolvers:        1,
		NumReconcilers:      1,
		CacheLife:           time.Hour,
		CacheExpire:         true,
		CompactionWatermark: 50,
		DefaultHandleSuffix: ".bsky.social",
	}
}

func testRules() []domain.ListRule {
	return []domain.ListRule{
		{Key: "over5k", Name: "Follows Over 5k", Kind: domain.RuleFollows, Threshold: 5000},
		{Key: "over7k", Name: "Follows Over 7k", Kind: domain.RuleFollows, Threshold: 7000},
		{Key: "over10k", Name: "Follows Over 10k", Kind: domain.RuleFollows, Threshold: 10000},
		{Key: "unverified5k", Name: "Unverified Follows Over 5k", Kind: domain.RuleFollowsUnverified, Threshold: 5000},
		{Key: "followersover100k", Name: "Followers Over 100k", Kind: domain.RuleFollowers, Threshold: 100000},
	}
}

func newRegistry(rules []domain.ListRule) (*registry.Registry, error) {
	return registry.New(rules, discardLogger())
}

func newTestPipeline(t *testing.T, cache *fakeCache, api *fakeAPI, rules []domain.ListRule) (*Pipeline, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(rules, discardLogger())
	require.NoError(t, err)
	for _, l := range reg.Lists() {
		l.SetURI("at://did:plc:me/app.bsky.graph.list/" + l.Rule.Key)
	}

	p := New(
		testConfig(),
		cache,
		reg,
		NewQueues(),
		func(ctx context.Context) (domain.ListAPI, error) { return api, nil },
		func() domain.ProfileAPI { return api },
		discardLogger(),
	)
	return p, reg
}

func profile(did, handle string, follows, followers int64) *domain.Profile {
	desc := ""
	return &domain.Profile{
		DID:            did,
		Handle:         handle,
		DisplayName:    "",
		Description:    &desc,
		FollowsCount:   follows,
		FollowersCount: followers,
	}
}
