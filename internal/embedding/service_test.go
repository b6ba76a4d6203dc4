package embedding

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/resilience"
)

// memCache is an in-memory cache.EmbeddingCache stand-in; the Redis-
// backed TwoTierCache is exercised separately in internal/cache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*models.EmbeddingCacheEntry
	puts    int
}

func newMemCache() *memCache { return &memCache{entries: make(map[string]*models.EmbeddingCacheEntry)} }

func (c *memCache) Get(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[contentHash]
	return e, ok, nil
}

func (c *memCache) Put(ctx context.Context, entry *models.EmbeddingCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.ContentHash] = entry
	c.puts++
	return nil
}

func newTestService(t *testing.T, provider Provider, cacheImpl *memCache, cfg Config) *Service {
	t.Helper()
	return NewService(provider, cacheImpl, cfg, resilience.NewRegistry(observability.NopLogger{}), resilience.NewRateLimiterRegistry(), observability.NopLogger{}, observability.NopMetricsClient{})
}

func TestService_EmbedWithCache_PopulatesAndReusesCache(t *testing.T) {
	provider := NewMockProvider("mock", 4)
	c := newMemCache()
	svc := newTestService(t, provider, c, Config{ModelID: "mock-model"})

	texts := []string{"alpha", "beta", "gamma"}
	first, err := svc.EmbedWithCache(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 3, c.puts)

	// Second call with an overlapping set should only embed the new text.
	second, err := svc.EmbedWithCache(context.Background(), []string{"alpha", "delta"})
	require.NoError(t, err)
	assert.Equal(t, first[0], second[0], "cached entry for 'alpha' should be reused verbatim")
	assert.Equal(t, 4, c.puts, "only 'delta' should have triggered a new cache write")
}

func TestService_EmbedWithCache_PreservesOrderAcrossBatches(t *testing.T) {
	provider := NewMockProvider("mock", 2)
	c := newMemCache()
	svc := newTestService(t, provider, c, Config{ModelID: "m", MaxBatch: 2, MinBatch: 1})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	got, err := svc.EmbedWithCache(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))
	for i, text := range texts {
		want := float32(len(text) % 7)
		assert.Equal(t, want, got[i][0], "embedding for index %d (%q) out of order", i, text)
	}
}

func TestService_EmbedBatch_TransientFailureExhaustsRetries(t *testing.T) {
	provider := NewMockProvider("mock", 2).FailEveryNCalls(1, apperrors.ClassTransientTransport)
	c := newMemCache()
	svc := newTestService(t, provider, c, Config{ModelID: "m", MaxRetries: 0})

	_, err := svc.EmbedWithCache(context.Background(), []string{"x"})
	require.Error(t, err, "a provider that always returns a transient error must surface once retries are exhausted")
	ce, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ClassTransientTransport, ce.Class)
}

func TestService_EmbedBatch_AuthFailureNeverRetried(t *testing.T) {
	provider := NewMockProvider("mock", 2).FailEveryNCalls(1, apperrors.ClassPermanentAuthorization)
	c := newMemCache()
	svc := newTestService(t, provider, c, Config{ModelID: "m"})

	_, err := svc.EmbedWithCache(context.Background(), []string{"x"})
	require.Error(t, err)
	ce, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ClassPermanentAuthorization, ce.Class)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "he", truncate("hello", 2))
	assert.Equal(t, "日本", truncate("日本語", 2))
}

func TestCurrentBatchSize_RespectsPressureThresholds(t *testing.T) {
	svc := &Service{cfg: Config{MaxBatch: 128, MinBatch: 32, PressurePct: 0.8, CriticalPct: 0.9}, metrics: observability.NopMetricsClient{}}

	svc.memory = &MemoryMonitor{} // disabled monitor: Pressure() == 0
	assert.Equal(t, 128, svc.currentBatchSize())

	svc.memory = &MemoryMonitor{maxBytes: 1} // any live heap is far above the critical threshold
	assert.Equal(t, 32, svc.currentBatchSize())
}
