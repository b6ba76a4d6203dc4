// Package indexer implements the Indexer component of spec.md §4.D:
// index_file(job, file_path) -> FileOutcome, the single-file pipeline
// that sits between the orchestrator's chunk scheduling and the
// embedding/search-backend/store collaborators. Grounded on the
// teacher's pkg/embedding.DefaultEmbeddingPipeline (chunking service
// -> embedding service -> storage wiring), generalized from GitHub
// content items to filesystem-resident source files.
package indexer

import (
	"context"
	"os"
	"time"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/cache"
	"github.com/vosbek/repoindex/internal/embedding"
	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/parser"
	"github.com/vosbek/repoindex/internal/searchbackend"
	"github.com/vosbek/repoindex/internal/store"
)

// FileReader abstracts filesystem access so tests can substitute an
// in-memory file set instead of touching disk.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader reads from the real filesystem.
type OSFileReader struct{}

func (OSFileReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// CommitResolver returns the VCS commit identifier for a repository
// root, used to populate Document.Commit. spec.md §6 names "commit"
// in the document schema but never defines how it is obtained (the
// source's git integration is out of scope, per §1's non-goals on
// anything downstream of the core); a nil resolver yields an empty
// commit rather than guessing at a git plumbing dependency no example
// repo in the pack carries.
type CommitResolver interface {
	Resolve(repositoryRoot string) (string, error)
}

// FileOutcome is the result of indexing one file, mirrored onto the
// FileState row by the caller (normally the orchestrator).
type FileOutcome struct {
	Status              models.FileStatus
	SkipReason          string
	EntitiesExtracted   int
	EmbeddingsGenerated int
	Duration            time.Duration
	ErrorKind           string
	ErrorMessage        string
	Language            string
}

// Config holds the indexer's own tunables, distinct from the
// embedding provider's per-call retry budget in embedding.Config.
type Config struct {
	// MaxRetries bounds retry_count before a file's failure is
	// escalated to the dead-letter table (spec.md §3, §4.E).
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Indexer wires the parser registry, embedding service, search
// backend and store together into the single-file algorithm of
// spec.md §4.D.
type Indexer struct {
	parsers    *parser.Registry
	embedder   *embedding.Service
	backend    searchbackend.SearchBackend
	store      store.Store
	reader     FileReader
	commits    CommitResolver
	logger     observability.Logger
	metrics    observability.MetricsClient
	maxRetries int
}

// New constructs an Indexer. reader and commits may be nil; a nil
// reader defaults to OSFileReader, a nil commits resolver yields an
// empty commit hash.
func New(parsers *parser.Registry, embedder *embedding.Service, backend searchbackend.SearchBackend, st store.Store, reader FileReader, commits CommitResolver, logger observability.Logger, metrics observability.MetricsClient, cfg Config) *Indexer {
	if reader == nil {
		reader = OSFileReader{}
	}
	cfg = cfg.withDefaults()
	return &Indexer{
		parsers:    parsers,
		embedder:   embedder,
		backend:    backend,
		store:      st,
		reader:     reader,
		commits:    commits,
		logger:     logger,
		metrics:    metrics,
		maxRetries: cfg.MaxRetries,
	}
}

// IndexFile implements spec.md §4.D's algorithm for one file. Errors
// from parsing, embedding, and indexing are all caught at this
// boundary and folded into the returned FileOutcome; IndexFile itself
// only returns a non-nil error for a store failure (PROCESSING mark,
// final persist) since those are infrastructure failures the caller
// must treat as job-fatal, not file-fatal.
func (ix *Indexer) IndexFile(ctx context.Context, job *models.Job, path string) (*FileOutcome, error) {
	start := time.Now()

	// Step 1: mark PROCESSING, stamp started_at.
	now := start
	if err := ix.store.UpsertFileState(ctx, job.ID, path, models.FileStatePatch{
		Status:    statusPtr(models.FileStatusProcessing),
		StartedAt: &now,
	}); err != nil {
		return nil, err
	}

	// Step 2: resolve a parser; no implicit fallback (spec.md §4.D
	// step 2 / §6 "pluggable parsers").
	p, ok := ix.parsers.Resolve(path)
	if !ok {
		return ix.finish(ctx, job, path, start, &FileOutcome{
			Status:     models.FileStatusSkipped,
			SkipReason: "unsupported_file_type",
		})
	}

	// Step 3: read, hash, and check for an unchanged prior COMPLETED run.
	raw, err := ix.reader.ReadFile(path)
	if err != nil {
		return ix.finish(ctx, job, path, start, &FileOutcome{
			Status:       models.FileStatusFailed,
			ErrorKind:    apperrors.ClassInternal.String(),
			ErrorMessage: err.Error(),
		})
	}
	content := string(raw)
	contentHash := cache.ContentHash(content)

	if !job.ForceReindex {
		if prior, err := ix.store.GetCompletedFileState(ctx, job.RepositoryRoot, path); err == nil && prior != nil && prior.ContentHash == contentHash {
			return ix.finish(ctx, job, path, start, &FileOutcome{
				Status:     models.FileStatusSkipped,
				SkipReason: "unchanged_content",
			})
		}
	}
	if err := ix.store.UpsertFileState(ctx, job.ID, path, models.FileStatePatch{ContentHash: &contentHash}); err != nil {
		return nil, err
	}

	// Step 4: parse into entities.
	entities, err := p.Parse(ctx, path, content)
	if err != nil {
		return ix.finish(ctx, job, path, start, &FileOutcome{
			Status:       models.FileStatusFailed,
			ErrorKind:    apperrors.ClassPermanentParse.String(),
			ErrorMessage: err.Error(),
		})
	}

	outcome := &FileOutcome{Language: p.Language(), EntitiesExtracted: len(entities)}
	if len(entities) == 0 {
		// Nothing to embed or index; not an error, nothing to fail.
		outcome.Status = models.FileStatusCompleted
		return ix.finish(ctx, job, path, start, outcome)
	}

	repoID := job.RepositoryRoot
	commit := ""
	if ix.commits != nil {
		if c, err := ix.commits.Resolve(job.RepositoryRoot); err == nil {
			commit = c
		}
	}

	// Step 5: per-entity embed + index.
	texts := make([]string, len(entities))
	for i, e := range entities {
		texts[i] = e.Text
	}
	embeddings, embedErr := ix.embedder.EmbedWithCache(ctx, texts)

	for i, e := range entities {
		if embedErr != nil || i >= len(embeddings) || embeddings[i] == nil {
			ix.logger.Warn("entity embedding failed", map[string]any{"path": path, "entity_id": e.ID})
			continue
		}
		doc := &searchbackend.Document{
			DocID:       searchbackend.DocumentID(e.Text, e.ID),
			Content:     e.Text,
			Embedding:   embeddings[i],
			Path:        path,
			RepoID:      repoID,
			Commit:      commit,
			Language:    p.Language(),
			Kind:        string(e.Kind),
			StartLine:   e.StartLine,
			EndLine:     e.EndLine,
			Tool:        ix.embedder.ProviderName(),
			ContentHash: contentHash,
		}
		if err := ix.backend.Upsert(ctx, doc); err != nil {
			ix.logger.Warn("entity indexing failed", map[string]any{"path": path, "entity_id": e.ID, "error": err.Error()})
			continue
		}
		outcome.EmbeddingsGenerated++
	}

	// Step 6: a file FAILS only if zero entities succeeded.
	if outcome.EmbeddingsGenerated == 0 {
		outcome.Status = models.FileStatusFailed
		outcome.ErrorKind = apperrors.ClassInternal.String()
		outcome.ErrorMessage = "no entity succeeded embedding or indexing"
	} else {
		outcome.Status = models.FileStatusCompleted
	}
	outcome.Language = p.Language()
	return ix.finish(ctx, job, path, start, outcome)
}

func (ix *Indexer) finish(ctx context.Context, job *models.Job, path string, start time.Time, outcome *FileOutcome) (*FileOutcome, error) {
	outcome.Duration = time.Since(start)

	if outcome.Status == models.FileStatusFailed {
		return ix.finishFailed(ctx, job, path, outcome)
	}

	now := start.Add(outcome.Duration)
	patch := models.FileStatePatch{
		Status:                    &outcome.Status,
		ProcessingDurationSeconds: durationSeconds(outcome.Duration),
		EntitiesExtracted:         &outcome.EntitiesExtracted,
		EmbeddingsGenerated:       &outcome.EmbeddingsGenerated,
		CompletedAt:               &now,
	}
	if outcome.SkipReason != "" {
		patch.SkipReason = &outcome.SkipReason
	}
	if outcome.Language != "" {
		patch.Language = &outcome.Language
	}
	if err := ix.store.UpsertFileState(ctx, job.ID, path, patch); err != nil {
		return nil, err
	}
	ix.metrics.IncrementCounter("indexer_files_"+string(outcome.Status), nil)
	return outcome, nil
}

// finishFailed implements spec.md §3's "FAILED ... retry_count"
// bookkeeping and §4.E's per-file hard-failure rule: RecordError marks
// the row FAILED and increments retry_count in one statement, then
// once retry_count reaches maxRetries the file is escalated to the
// dead-letter table for human triage rather than retried again.
func (ix *Indexer) finishFailed(ctx context.Context, job *models.Job, path string, outcome *FileOutcome) (*FileOutcome, error) {
	if err := ix.store.RecordError(ctx, job.ID, path, outcome.ErrorKind, outcome.ErrorMessage); err != nil {
		return nil, err
	}

	patch := models.FileStatePatch{
		ProcessingDurationSeconds: durationSeconds(outcome.Duration),
		EntitiesExtracted:         &outcome.EntitiesExtracted,
		EmbeddingsGenerated:       &outcome.EmbeddingsGenerated,
	}
	if outcome.Language != "" {
		patch.Language = &outcome.Language
	}
	if err := ix.store.UpsertFileState(ctx, job.ID, path, patch); err != nil {
		return nil, err
	}

	current, err := ix.store.GetFileState(ctx, job.ID, path)
	if err != nil {
		return nil, err
	}
	if current.RetryCount >= ix.maxRetries {
		if err := ix.store.AppendDeadLetter(ctx, &models.DeadLetterEntry{
			JobID:        job.ID,
			Path:         path,
			Stage:        models.StageIndex,
			ErrorKind:    outcome.ErrorKind,
			ErrorMessage: outcome.ErrorMessage,
			RetryHistory: []models.RetryAttempt{{
				AttemptedAt:  time.Now().UTC(),
				ErrorKind:    outcome.ErrorKind,
				ErrorMessage: outcome.ErrorMessage,
			}},
		}); err != nil {
			return nil, err
		}
		ix.logger.Error("file exhausted retries, sent to dead letter", map[string]any{
			"job_id": job.ID, "path": path, "retry_count": current.RetryCount,
		})
	}

	ix.metrics.IncrementCounter("indexer_files_failed", nil)
	return outcome, nil
}

func statusPtr(s models.FileStatus) *models.FileStatus { return &s }

func durationSeconds(d time.Duration) *float64 {
	v := d.Seconds()
	return &v
}
