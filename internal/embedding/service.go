package embedding

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/cache"
	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/resilience"
)

// Config holds the tunables of spec.md §4.C / §5's "Defaults" table.
type Config struct {
	ModelID             string
	MaxConcurrency      int
	MinBatch            int
	MaxBatch            int
	MaxContentLength    int
	PressurePct         float64 // e.g. 0.80
	CriticalPct         float64 // e.g. 0.90
	RequestsPerMinute   int
	MaxRetries          int
	RetryBaseDelay      int64 // milliseconds, avoids importing time into callers' config literals
	FailureThreshold    uint32
	RecoveryTimeoutSecs int
	MaxMemoryMB         int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.MinBatch <= 0 {
		c.MinBatch = 32
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 128
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 8000
	}
	if c.PressurePct <= 0 {
		c.PressurePct = 0.80
	}
	if c.CriticalPct <= 0 {
		c.CriticalPct = 0.90
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeoutSecs <= 0 {
		c.RecoveryTimeoutSecs = 60
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = 2048
	}
	return c
}

// Service is the process-wide embedding pipeline: one Service per
// provider endpoint, shared by every job (spec.md §4.C's semaphore,
// breaker and rate limiter are explicitly process-wide, not per-job).
type Service struct {
	cfg      Config
	provider Provider
	cache    cache.EmbeddingCache
	sem      chan struct{}
	breaker  *resilience.CircuitBreaker
	limiter  *resilience.SlidingWindowLimiter
	memory   *MemoryMonitor
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewService wires one embedding endpoint's full resilience stack.
func NewService(provider Provider, c cache.EmbeddingCache, cfg Config, breakers *resilience.Registry, limiters *resilience.RateLimiterRegistry, logger observability.Logger, metrics observability.MetricsClient) *Service {
	cfg = cfg.withDefaults()
	breaker := breakers.Get(provider.Name(), resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.RecoveryTimeoutSecs) * time.Second,
	})
	limiter := limiters.Get(provider.Name(), cfg.RequestsPerMinute)
	return &Service{
		cfg:      cfg,
		provider: provider,
		cache:    c,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
		breaker:  breaker,
		limiter:  limiter,
		memory:   NewMemoryMonitor(cfg.MaxMemoryMB),
		logger:   logger,
		metrics:  metrics,
	}
}

// ProviderName identifies which embedding provider produced a
// document's vector, for the "tool" field of spec.md §6's document
// schema.
func (s *Service) ProviderName() string { return s.provider.Name() }

// EmbedWithCache implements embed_with_cache (spec.md §4.C "Cache
// interaction"): split cached/uncached, embed only the uncached
// subset, merge preserving input order, and populate the cache with
// freshly computed vectors.
func (s *Service) EmbedWithCache(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	var missHashes []string

	for i, text := range texts {
		hash := cache.Key(text, s.cfg.ModelID)
		entry, found, err := s.cache.Get(ctx, hash)
		if err != nil {
			return nil, err
		}
		if found {
			results[i] = entry.Embedding
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
		missHashes = append(missHashes, hash)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embeddings, err := s.embedAll(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		results[idx] = embeddings[j]
		entry := &models.EmbeddingCacheEntry{
			ContentHash: missHashes[j],
			Embedding:   embeddings[j],
			ModelID:     s.cfg.ModelID,
			Dimensions:  len(embeddings[j]),
		}
		if err := s.cache.Put(ctx, entry); err != nil {
			s.logger.Warn("caching embedding failed", map[string]any{"error": err.Error()})
		}
	}
	return results, nil
}

// embedAll truncates, dynamically batches, and dispatches every batch
// through the semaphore/limiter/breaker/retry stack, preserving order.
func (s *Service) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = truncate(t, s.cfg.MaxContentLength)
	}

	results := make([][]float32, len(texts))
	batchSize := s.currentBatchSize()

	for start := 0; start < len(truncated); start += batchSize {
		end := start + batchSize
		if end > len(truncated) {
			end = len(truncated)
		}
		batch := truncated[start:end]

		embeddings, err := s.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		copy(results[start:end], embeddings)

		// Re-evaluate pressure between batches; memory can change mid-job.
		batchSize = s.currentBatchSize()
	}
	return results, nil
}

// currentBatchSize applies spec.md §4.C.2: the unloaded batch size is
// MaxBatch (never below MinBatch); above PressurePct it is halved,
// above CriticalPct it is quartered, and in both of those cases the
// floor drops from MinBatch to 1 — the spec's explicit override for
// memory pressure, which takes priority over the normal minimum.
func (s *Service) currentBatchSize() int {
	size := s.cfg.MaxBatch
	pressure := s.memory.Pressure()
	floor := s.cfg.MinBatch
	switch {
	case pressure >= s.cfg.CriticalPct:
		size = size / 4
		floor = 1
		s.metrics.IncrementCounter("embed_batch_quartered", nil)
	case pressure >= s.cfg.PressurePct:
		size = size / 2
		floor = 1
		s.metrics.IncrementCounter("embed_batch_halved", nil)
	}
	if size < floor {
		size = floor
	}
	if size > s.cfg.MaxBatch {
		size = s.cfg.MaxBatch
	}
	return size
}

// embedBatch sends exactly one batch through the semaphore, rate
// limiter, circuit breaker and retry, in that order: acquire a
// concurrency slot first (it's the scarcest resource), then pace
// against the endpoint's rate limit, then let the breaker gate the
// call, with retry wrapping the innermost provider call.
func (s *Service) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	stop := s.metrics.StartTimer("embed_batch_duration", map[string]string{"provider": s.provider.Name()})
	defer stop()

	retryCfg := resilience.RetryConfig{MaxRetries: s.cfg.MaxRetries, BaseDelay: time.Duration(s.cfg.RetryBaseDelay) * time.Millisecond}
	result, err := s.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return resilience.Retry(ctx, retryCfg, func(ctx context.Context) (any, error) {
			return s.provider.EmbedBatch(ctx, batch, s.cfg.ModelID)
		})
	}, isThrottleError)
	if err != nil {
		s.metrics.IncrementCounter("embed_batch_failed", map[string]string{"class": apperrors.ClassOf(err).String()})
		return nil, err
	}
	return result.([][]float32), nil
}

func isThrottleError(err error) bool {
	return apperrors.ClassOf(err) == apperrors.ClassTransientThrottled
}

// truncate cuts s to at most maxCodePoints Unicode code points
// (spec.md §4.C.6 — "documented, not an error").
func truncate(s string, maxCodePoints int) string {
	if utf8.RuneCountInString(s) <= maxCodePoints {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxCodePoints])
}

