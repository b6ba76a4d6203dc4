package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/store"
)

// fakeColdStore is a minimal in-memory store.Store stand-in exercising
// only the cache entry methods; the orchestrator/indexer tests use
// go-sqlmock against the real PostgresStore instead.
type fakeColdStore struct {
	store.Store
	entries map[string]*models.EmbeddingCacheEntry
}

func newFakeColdStore() *fakeColdStore {
	return &fakeColdStore{entries: make(map[string]*models.EmbeddingCacheEntry)}
}

func (f *fakeColdStore) GetCacheEntry(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, error) {
	if e, ok := f.entries[contentHash]; ok {
		return e, nil
	}
	return nil, assert.AnError
}

func (f *fakeColdStore) GetOrCreateCacheEntry(ctx context.Context, contentHash string, createFn func() (*models.EmbeddingCacheEntry, error)) (*models.EmbeddingCacheEntry, bool, error) {
	if e, ok := f.entries[contentHash]; ok {
		e.HitCount++
		return e, false, nil
	}
	e, err := createFn()
	if err != nil {
		return nil, false, err
	}
	f.entries[contentHash] = e
	return e, true, nil
}

func setupTestCache(t *testing.T) (*TwoTierCache, *fakeColdStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	hot, err := NewRedisClient(context.Background(), RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)

	cold := newFakeColdStore()
	c, err := NewTwoTierCache(hot, cold, Config{HotTTL: time.Hour, LocalLRUSize: 8}, observability.NopLogger{}, observability.NopMetricsClient{})
	require.NoError(t, err)
	return c, cold, mr
}

func TestTwoTierCache_MissThenHit(t *testing.T) {
	c, _, _ := setupTestCache(t)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, found)

	entry := &models.EmbeddingCacheEntry{
		ContentHash: "deadbeef",
		Embedding:   []float32{0.1, 0.2, 0.3},
		ModelID:     "test-model",
		Dimensions:  3,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, c.Put(ctx, entry))

	got, found, err := c.Get(ctx, "deadbeef")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.ModelID, got.ModelID)
	assert.Equal(t, entry.Embedding, got.Embedding)
}

func TestTwoTierCache_PromotesColdHitToHotAndLocal(t *testing.T) {
	c, cold, mr := setupTestCache(t)
	ctx := context.Background()

	cold.entries["coldonly"] = &models.EmbeddingCacheEntry{
		ContentHash: "coldonly",
		Embedding:   []float32{1, 2},
		ModelID:     "m",
		Dimensions:  2,
	}

	got, found, err := c.Get(ctx, "coldonly")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "m", got.ModelID)

	// Promoted into hot: miniredis should now hold the key.
	assert.True(t, mr.Exists(hotKey("coldonly")))

	// Promoted into local: clearing hot should not lose the hit.
	mr.FlushAll()
	got2, found2, err := c.Get(ctx, "coldonly")
	require.NoError(t, err)
	require.True(t, found2)
	assert.Equal(t, got.Embedding, got2.Embedding)
}

func TestTwoTierCache_PutSucceedsWhenOnlyColdAvailable(t *testing.T) {
	c, _, mr := setupTestCache(t)
	ctx := context.Background()

	mr.Close() // hot tier now unreachable

	entry := &models.EmbeddingCacheEntry{ContentHash: "h1", Embedding: []float32{1}, ModelID: "m", Dimensions: 1}
	err := c.Put(ctx, entry)
	assert.NoError(t, err, "cold tier success should make Put non-fatal even though hot tier failed")
}
