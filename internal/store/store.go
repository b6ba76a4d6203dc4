// Package store implements the durable persistence layer (spec.md
// §4.A): transactional Job/FileState/RepositorySnapshot records,
// idempotent EmbeddingCacheEntry upserts, and DeadLetterEntry
// triage, backed by Postgres via jmoiron/sqlx — the same stack the
// teacher uses in pkg/database and pkg/repository/vector.
package store

import (
	"context"
	"time"

	"github.com/vosbek/repoindex/internal/models"
)

// JobPatch is a partial update applied atomically with a status
// transition or progress recompute. Nil fields are left untouched.
type JobPatch struct {
	TotalFiles        *int
	ProcessedFiles    *int
	FailedFiles       *int
	SkippedFiles      *int
	ProgressFraction  *float64
	SuccessRate       *float64
	StartedAt         *time.Time
	CompletedAt       *time.Time
	DurationSeconds   *float64
	ProcessingOrder   []string
	LastProcessedFile *string
	Checkpoint        *models.Checkpoint
	ErrorMessage      *string
}

// Store is the contract every component in §2 depends on for durable
// state. The orchestrator mutates Job and FileState through it; the
// embedding pipeline mutates EmbeddingCacheEntry through it; nothing
// else writes durable state directly (spec.md §3 "Ownership").
type Store interface {
	// CreateJob persists a new job in PENDING status and returns its ID.
	// Fails with apperrors.ClassInvalidInput if RepositoryRoot is empty.
	CreateJob(ctx context.Context, spec models.JobSpec) (string, error)

	// GetJob fetches a job by ID. Fails with apperrors.ClassNotFound.
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// TransitionJob performs a compare-and-set: if the job's current
	// status != from, it returns (false, nil); a caller interpreting
	// that as apperrors.ClassConflict should re-read and retry.
	TransitionJob(ctx context.Context, id string, from, to models.JobStatus, patch JobPatch) (bool, error)

	// SetProcessingOrder persists the immutable traversal order. It
	// fails if the job already has a non-empty processing_order.
	SetProcessingOrder(ctx context.Context, jobID string, order []string) error

	// PersistCheckpoint writes a new checkpoint and the latest progress
	// counters in one transaction. index_in_processing_order must be
	// monotonic non-decreasing; the implementation rejects a regression.
	PersistCheckpoint(ctx context.Context, jobID string, patch JobPatch) error

	// ListRecentJobs returns up to limit jobs, most recent first.
	ListRecentJobs(ctx context.Context, limit int) ([]*models.Job, error)

	// UpsertFileState inserts a PENDING row on first touch for
	// (jobID, path); on later calls it applies patch without
	// regressing a terminal status to a non-terminal one, except when
	// patch explicitly carries a new Revision-worthy retry (status
	// moves FAILED -> PENDING, which bumps Revision).
	UpsertFileState(ctx context.Context, jobID, path string, patch models.FileStatePatch) error

	// GetFileState fetches the current row for (jobID, path).
	GetFileState(ctx context.Context, jobID, path string) (*models.FileState, error)

	// GetCompletedFileState returns the most recent COMPLETED FileState
	// for the same repository root and path across all jobs, used by
	// the indexer's content-hash skip check (spec.md §4.D step 3) and
	// by incremental discovery (spec.md §4.E).
	GetCompletedFileState(ctx context.Context, repositoryRoot, path string) (*models.FileState, error)

	// ListFilesByStatus lists up to limit FileState rows for a job in
	// the given status.
	ListFilesByStatus(ctx context.Context, jobID string, status models.FileStatus, limit int) ([]*models.FileState, error)

	// RecordError increments retry_count and marks the file FAILED.
	RecordError(ctx context.Context, jobID, path, errorKind, message string) error

	// WriteSnapshot persists a RepositorySnapshot at job finalization.
	WriteSnapshot(ctx context.Context, snapshot *models.RepositorySnapshot) error

	// GetOrCreateCacheEntry atomically inserts a new cache entry (if
	// createFn succeeds) or touches last_accessed_at/hit_count on an
	// existing one, returning (entry, wasCreated).
	GetOrCreateCacheEntry(ctx context.Context, contentHash string, createFn func() (*models.EmbeddingCacheEntry, error)) (*models.EmbeddingCacheEntry, bool, error)

	// GetCacheEntry looks up a cache entry without creating one.
	GetCacheEntry(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, error)

	// AppendDeadLetter records an immutable failure after max retries.
	AppendDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error

	// ListDeadLetters lists unresolved-first dead letters for a job
	// (SPEC_FULL.md §11 triage supplement).
	ListDeadLetters(ctx context.Context, jobID string, limit int) ([]*models.DeadLetterEntry, error)

	// ResolveDeadLetter marks a dead-letter entry resolved after human
	// triage (SPEC_FULL.md §11).
	ResolveDeadLetter(ctx context.Context, id string) error

	Close() error
}
