package cache

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-modlists/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"), time.Hour, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testProfile(did string) *domain.Profile {
	desc := "test account"
	return &domain.Profile{
		DID:            did,
		Handle:         "someone.bsky.social",
		DisplayName:    "Someone",
		Description:    &desc,
		FollowsCount:   6000,
		FollowersCount: 10,
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	writeTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return writeTime }

	p := testProfile("did:plc:abc")
	require.NoError(t, store.Put(ctx, p.DID, p))

	got, err := store.Get(ctx, p.DID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, p.DID, got.DID)
	assert.Equal(t, p.Handle, got.Handle)
	assert.Equal(t, p.FollowsCount, got.FollowsCount)
	require.NotNil(t, got.Description)
	assert.Equal(t, "test account", *got.Description)
	assert.Equal(t, writeTime.Format(time.RFC3339), got.CachedAt)
}

func TestStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Get(context.Background(), "did:plc:nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_PutOverwrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := testProfile("did:plc:abc")
	require.NoError(t, store.Put(ctx, p.DID, p))

	updated := testProfile("did:plc:abc")
	updated.FollowsCount = 99
	require.NoError(t, store.Put(ctx, updated.DID, updated))

	got, err := store.Get(ctx, "did:plc:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.FollowsCount)
}

func TestStore_PutNilProfile(t *testing.T) {
	store := setupTestStore(t)

	err := store.Put(context.Background(), "did:plc:abc", nil)
	require.ErrorIs(t, err, ErrNilProfile)
}

func TestStore_NullRowTreatedAsAbsent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.writer.ExecContext(ctx,
		`INSERT INTO profiles (did, value) VALUES (?, ?)`, "did:plc:bad", "null")
	require.NoError(t, err)

	got, err := store.Get(ctx, "did:plc:bad")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := testProfile("did:plc:abc")
	require.NoError(t, store.Put(ctx, p.DID, p))
	require.NoError(t, store.Delete(ctx, p.DID))

	got, err := store.Get(ctx, p.DID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent row is fine.
	require.NoError(t, store.Delete(ctx, "did:plc:never"))
}

func TestStore_SkipFetch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	p := testProfile("did:plc:abc")
	require.NoError(t, store.Put(ctx, p.DID, p))

	got, err := store.SkipFetch(ctx, p.DID)
	require.NoError(t, err)
	assert.NotNil(t, got, "just-written profile should be fresh")

	// Advance past the cache life; the row goes stale.
	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	got, err = store.SkipFetch(ctx, p.DID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// With expiry disabled everything cached is fresh.
	store.expire = false
	got, err = store.SkipFetch(ctx, p.DID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	store.expire = true
	got, err = store.SkipFetch(ctx, "did:plc:absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ScanDIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	want := map[string]bool{"did:plc:a": true, "did:plc:b": true, "did:plc:c": true}
	for did := range want {
		require.NoError(t, store.Put(ctx, did, testProfile(did)))
	}

	got := map[string]bool{}
	require.NoError(t, store.ScanDIDs(ctx, func(did string) error {
		got[did] = true
		return nil
	}))
	assert.Equal(t, want, got)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStore_ConcurrentReadWrite(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			did := "did:plc:abc"
			for j := 0; j < 20; j++ {
				if n%2 == 0 {
					_ = store.Put(ctx, did, testProfile(did))
				} else {
					_, _ = store.Get(ctx, did)
				}
			}
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "did:plc:abc")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestStore_ImportJSONGz(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	logger := discardLogger()

	snapshot := map[string]*domain.Profile{
		"did:plc:a": testProfile("did:plc:a"),
		"did:plc:b": testProfile("did:plc:b"),
	}
	path := filepath.Join(t.TempDir(), "cache.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	require.NoError(t, json.NewEncoder(gz).Encode(snapshot))
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	require.NoError(t, store.ImportJSONGz(ctx, path, logger))

	for did := range snapshot {
		got, err := store.Get(ctx, did)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.NotEmpty(t, got.CachedAt)
	}

	// A missing snapshot file is not an error.
	require.NoError(t, store.ImportJSONGz(ctx, filepath.Join(t.TempDir(), "nope.json.gz"), logger))
}
