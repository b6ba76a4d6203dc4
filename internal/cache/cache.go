// Package cache implements the two-tier EmbeddingCache of spec.md
// §4.B: a fast, volatile, TTL-bounded hot tier and a durable, cold
// tier backed by the Store. The teacher's internal/cache
// (MultiLevelCache: in-process hashicorp/golang-lru L1 in front of a
// Cache interface L2) is the model; here L2 is Redis (volatile, but
// shared across workers) and the authoritative cold tier is the
// Store, per spec.md's explicit hot/cold split rather than the
// teacher's L1/L2 split.
package cache

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/store"
)

// EmbeddingCache is the contract the embedding pipeline depends on.
// It exclusively owns EmbeddingCacheEntry mutations (spec.md §3
// "Ownership").
type EmbeddingCache interface {
	// Get performs the read-through lookup: local LRU -> Redis -> cold
	// store, promoting on every tier miss that the next tier resolves.
	Get(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, bool, error)

	// Put writes through both tiers. A tier write failure is logged
	// and non-fatal as long as at least one tier succeeds.
	Put(ctx context.Context, entry *models.EmbeddingCacheEntry) error
}

// Config configures the two-tier cache.
type Config struct {
	HotTTL       time.Duration
	LocalLRUSize int
}

// TwoTierCache is the production EmbeddingCache.
type TwoTierCache struct {
	local  *lru.Cache[string, *models.EmbeddingCacheEntry]
	hot    *redis.Client
	cold   store.Store
	ttl    time.Duration
	logger observability.Logger
	metric observability.MetricsClient
}

// NewTwoTierCache wires a process-local LRU, a Redis hot tier and the
// durable Store as the cold tier.
func NewTwoTierCache(hot *redis.Client, cold store.Store, cfg Config, logger observability.Logger, metric observability.MetricsClient) (*TwoTierCache, error) {
	if cfg.LocalLRUSize <= 0 {
		cfg.LocalLRUSize = 10000
	}
	if cfg.HotTTL <= 0 {
		cfg.HotTTL = 168 * time.Hour
	}
	local, err := lru.New[string, *models.EmbeddingCacheEntry](cfg.LocalLRUSize)
	if err != nil {
		return nil, err
	}
	return &TwoTierCache{local: local, hot: hot, cold: cold, ttl: cfg.HotTTL, logger: logger, metric: metric}, nil
}

func (c *TwoTierCache) Get(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, bool, error) {
	if entry, ok := c.local.Get(contentHash); ok {
		c.metric.IncrementCounter("cache_hit", map[string]string{"tier": "local"})
		return entry, true, nil
	}

	if c.hot != nil {
		entry, err := c.getHot(ctx, contentHash)
		if err == nil && entry != nil {
			c.local.Add(contentHash, entry)
			c.metric.IncrementCounter("cache_hit", map[string]string{"tier": "hot"})
			return entry, true, nil
		}
		if err != nil {
			c.logger.Warn("hot tier read failed, falling through to cold", map[string]any{"error": err.Error()})
		}
	}

	entry, err := c.cold.GetCacheEntry(ctx, contentHash)
	if err != nil {
		c.metric.IncrementCounter("cache_miss", nil)
		return nil, false, nil
	}
	c.metric.IncrementCounter("cache_hit", map[string]string{"tier": "cold"})
	c.local.Add(contentHash, entry)
	if c.hot != nil {
		if err := c.putHot(ctx, entry); err != nil {
			c.logger.Warn("promoting cold hit to hot tier failed", map[string]any{"error": err.Error()})
		}
	}
	return entry, true, nil
}

func (c *TwoTierCache) Put(ctx context.Context, entry *models.EmbeddingCacheEntry) error {
	c.local.Add(entry.ContentHash, entry)

	var hotErr, coldErr error
	if c.hot != nil {
		hotErr = c.putHot(ctx, entry)
		if hotErr != nil {
			c.logger.Warn("hot tier write failed", map[string]any{"error": hotErr.Error(), "content_hash": entry.ContentHash})
		}
	}

	_, _, coldErr = c.cold.GetOrCreateCacheEntry(ctx, entry.ContentHash, func() (*models.EmbeddingCacheEntry, error) {
		return entry, nil
	})
	if coldErr != nil {
		c.logger.Warn("cold tier write failed", map[string]any{"error": coldErr.Error(), "content_hash": entry.ContentHash})
	}

	// Non-fatal as long as one tier succeeded (spec.md §4.B).
	if hotErr != nil && coldErr != nil {
		return coldErr
	}
	return nil
}

func (c *TwoTierCache) getHot(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, error) {
	raw, err := c.hot.Get(ctx, hotKey(contentHash)).Bytes()
	if err != nil {
		return nil, err
	}
	var entry models.EmbeddingCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *TwoTierCache) putHot(ctx context.Context, entry *models.EmbeddingCacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.hot.Set(ctx, hotKey(entry.ContentHash), raw, c.ttl).Err()
}

func hotKey(contentHash string) string {
	return "embedcache:" + contentHash
}
