package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/models"
)

type cacheEntryRow struct {
	ContentHash    string         `db:"content_hash"`
	Embedding      pq.Float64Array `db:"embedding"`
	ModelID        string         `db:"model_id"`
	Dimensions     int            `db:"dimensions"`
	CreatedAt      time.Time      `db:"created_at"`
	LastAccessedAt time.Time      `db:"last_accessed_at"`
	HitCount       int64          `db:"hit_count"`
}

func (r *cacheEntryRow) toModel() *models.EmbeddingCacheEntry {
	vec := make([]float32, len(r.Embedding))
	for i, v := range r.Embedding {
		vec[i] = float32(v)
	}
	return &models.EmbeddingCacheEntry{
		ContentHash:    r.ContentHash,
		Embedding:      vec,
		ModelID:        r.ModelID,
		Dimensions:     r.Dimensions,
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
		HitCount:       r.HitCount,
	}
}

func toFloat64Array(vec []float32) pq.Float64Array {
	out := make(pq.Float64Array, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

// GetOrCreateCacheEntry is the only cache-entry write path; it is an
// idempotent upsert (spec.md §4.A): a fresh row is inserted via
// createFn's result, or an existing row's last_accessed_at/hit_count
// is bumped. Two concurrent misses for the same key may both call
// createFn and both INSERT ... ON CONFLICT DO UPDATE; spec.md §5
// explicitly accepts this as a rare cost/correctness trade-off (no
// distributed lock).
func (s *PostgresStore) GetOrCreateCacheEntry(ctx context.Context, contentHash string, createFn func() (*models.EmbeddingCacheEntry, error)) (*models.EmbeddingCacheEntry, bool, error) {
	var row cacheEntryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM embedding_cache_entries WHERE content_hash = $1`, contentHash)
	if err == nil {
		return s.touchCacheEntry(ctx, &row)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperrors.New(apperrors.ClassInternal, "GetOrCreateCacheEntry", "select", err)
	}

	entry, err := createFn()
	if err != nil {
		return nil, false, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache_entries (content_hash, embedding, model_id, dimensions, created_at, last_accessed_at, hit_count)
		VALUES ($1, $2, $3, $4, $5, $5, 1)
		ON CONFLICT (content_hash) DO UPDATE SET
			last_accessed_at = $5, hit_count = embedding_cache_entries.hit_count + 1`,
		contentHash, toFloat64Array(entry.Embedding), entry.ModelID, entry.Dimensions, now)
	if err != nil {
		return nil, false, apperrors.New(apperrors.ClassInternal, "GetOrCreateCacheEntry", "upsert", err)
	}
	entry.CreatedAt = now
	entry.LastAccessedAt = now
	entry.HitCount = 1
	return entry, true, nil
}

func (s *PostgresStore) touchCacheEntry(ctx context.Context, row *cacheEntryRow) (*models.EmbeddingCacheEntry, bool, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE embedding_cache_entries SET last_accessed_at = $1, hit_count = hit_count + 1
		WHERE content_hash = $2`, now, row.ContentHash)
	if err != nil {
		return nil, false, apperrors.New(apperrors.ClassInternal, "GetOrCreateCacheEntry", "touch", err)
	}
	entry := row.toModel()
	entry.LastAccessedAt = now
	entry.HitCount++
	return entry, false, nil
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, error) {
	var row cacheEntryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM embedding_cache_entries WHERE content_hash = $1`, contentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ClassNotFound, "GetCacheEntry", "no entry for hash", err)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInternal, "GetCacheEntry", "query", err)
	}
	return row.toModel(), nil
}
