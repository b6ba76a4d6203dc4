// Package orchestrator implements the JobOrchestrator of spec.md
// §4.E, the centerpiece component: discovery, dynamic chunking,
// checkpointed scheduling, pause/resume, finalization and the
// job-level abort rule, composed over internal/indexer and
// internal/store. Grounded on the teacher's internal/worker.processor
// idiom (single control-flow loop around one unit of work, logged
// progress counters) generalized from one queue message to a
// multi-chunk job lifecycle.
package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/events"
	"github.com/vosbek/repoindex/internal/indexer"
	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/searchbackend"
	"github.com/vosbek/repoindex/internal/store"
)

// maxFinalizeScan bounds how many FileState rows finalize and
// buildSnapshot read back per status; the spec does not require
// pagination beyond this and a single query over even a 10,000+ file
// repository stays well under it.
const maxFinalizeScan = 1_000_000

// Config holds the tunables of spec.md §4.E / §6's chunking and abort
// defaults.
type Config struct {
	MaxFilesPerChunk int
	MaxBytesPerChunk int64
	AbortFailureRate float64
	AbortMinSamples  int
}

func (c Config) withDefaults() Config {
	if c.MaxFilesPerChunk <= 0 {
		c.MaxFilesPerChunk = 50
	}
	if c.MaxBytesPerChunk <= 0 {
		c.MaxBytesPerChunk = 10 * 1024 * 1024
	}
	if c.AbortFailureRate <= 0 {
		c.AbortFailureRate = 0.5
	}
	if c.AbortMinSamples <= 0 {
		c.AbortMinSamples = 10
	}
	return c
}

// FileStater abstracts file size lookup so tests can avoid disk I/O.
type FileStater interface {
	Stat(path string) (int64, error)
}

// OSFileStater stats the real filesystem.
type OSFileStater struct{}

func (OSFileStater) Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Orchestrator owns a job's lifecycle from discovery through
// finalization, per spec.md §4.E.
type Orchestrator struct {
	store   store.Store
	indexer *indexer.Indexer
	backend searchbackend.SearchBackend
	stater  FileStater
	cfg     Config
	logger  observability.Logger
	metrics observability.MetricsClient
	events  *events.Bus
}

// New constructs an Orchestrator. stater may be nil, defaulting to
// OSFileStater; backend may be nil, in which case a FULL job's stale
// document cleanup (DeleteByRepo) is skipped rather than attempted;
// bus may be nil, in which case lifecycle events are not published
// (cmd/server's SSE surface of SPEC_FULL.md §11 is optional).
func New(st store.Store, ix *indexer.Indexer, backend searchbackend.SearchBackend, stater FileStater, cfg Config, logger observability.Logger, metrics observability.MetricsClient, bus *events.Bus) *Orchestrator {
	if stater == nil {
		stater = OSFileStater{}
	}
	return &Orchestrator{store: st, indexer: ix, backend: backend, stater: stater, cfg: cfg.withDefaults(), logger: logger, metrics: metrics, events: bus}
}

// publish emits a lifecycle event if an event bus was configured.
func (o *Orchestrator) publish(jobID, eventType string, data map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Publish(jobID, eventType, data)
}

// StartJob discovers processing_order (first run only), transitions
// PENDING -> RUNNING, and drives the job to completion or the next
// pause/abort boundary.
func (o *Orchestrator) StartJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if len(job.ProcessingOrder) == 0 {
		order, err := o.Discover(ctx, job)
		if err != nil {
			return err
		}
		if err := o.store.SetProcessingOrder(ctx, jobID, order); err != nil {
			return err
		}
		job.ProcessingOrder = order
	}

	now := time.Now()
	totalFiles := len(job.ProcessingOrder)
	ok, err := o.store.TransitionJob(ctx, jobID, models.JobStatusPending, models.JobStatusRunning, store.JobPatch{
		TotalFiles: &totalFiles,
		StartedAt:  &now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.ClassConflict, "StartJob", "job is not in PENDING status", nil)
	}

	if job.Type == models.JobTypeFull && o.backend != nil {
		// A FULL job re-walks the entire repository_root; documents for
		// paths no longer present (renamed, deleted) would otherwise
		// survive forever under their old repo_id, so the prior index
		// generation is cleared before this run writes its own.
		if err := o.backend.DeleteByRepo(ctx, job.RepositoryRoot); err != nil {
			return err
		}
	}

	o.publish(jobID, "job.started", map[string]any{"total_files": totalFiles})

	return o.Run(ctx, jobID)
}

// Run processes chunks from the job's current resume point until
// either processing_order is exhausted, the abort rule fires, or the
// job is observed to have left RUNNING status (paused or cancelled by
// a concurrent caller). It is safe to call repeatedly: Resume calls it
// again after flipping PAUSED -> RUNNING.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return apperrors.New(apperrors.ClassConflict, "Run", "job is not RUNNING", nil)
	}

	remaining, startIndex := remainingOrder(job)
	if len(remaining) == 0 {
		return o.finalize(ctx, job, models.JobStatusCompleted, nil)
	}

	sizes := make(map[string]int64, len(remaining))
	for _, path := range remaining {
		size, err := o.stater.Stat(path)
		if err != nil {
			// Treat an unreadable file as zero-byte for chunking
			// purposes; IndexFile will surface the real read error on
			// the file row when it gets there.
			size = 0
		}
		sizes[path] = size
	}

	chunks := buildChunks(remaining, startIndex, sizes, o.cfg.MaxFilesPerChunk, o.cfg.MaxBytesPerChunk)

	for _, chunk := range chunks {
		current, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if current.Status != models.JobStatusRunning {
			// Paused or cancelled by a concurrent caller; the worker
			// loop observes this at the chunk boundary and exits
			// cleanly per spec.md §4.E Pause/Resume.
			return nil
		}

		chunkFailed := false
		for _, path := range chunk.Paths {
			outcome, err := o.indexer.IndexFile(ctx, job, path)
			if err != nil {
				chunkFailed = true
				o.logger.Error("indexing file failed at the store layer", map[string]any{"job_id": jobID, "path": path, "error": err.Error()})
				continue
			}
			switch outcome.Status {
			case models.FileStatusCompleted:
				job.ProcessedFiles++
			case models.FileStatusFailed:
				job.FailedFiles++
				chunkFailed = true
			case models.FileStatusSkipped:
				job.SkippedFiles++
			}
		}

		job.RecomputeProgress()
		job.RecomputeSuccessRate()

		lastPath := chunk.Paths[len(chunk.Paths)-1]
		checkpoint := &models.Checkpoint{
			Timestamp:    time.Now(),
			IndexInOrder: chunk.StartIndex + len(chunk.Paths) - 1,
			ChunkSize:    len(chunk.Paths),
			ChunkFailed:  chunkFailed,
			StageCounters: map[string]int{
				"processed": job.ProcessedFiles,
				"failed":    job.FailedFiles,
				"skipped":   job.SkippedFiles,
			},
		}
		if err := o.store.PersistCheckpoint(ctx, jobID, store.JobPatch{
			ProcessedFiles:    &job.ProcessedFiles,
			FailedFiles:       &job.FailedFiles,
			SkippedFiles:      &job.SkippedFiles,
			ProgressFraction:  &job.ProgressFraction,
			SuccessRate:       job.SuccessRate,
			LastProcessedFile: &lastPath,
			Checkpoint:        checkpoint,
		}); err != nil {
			return err
		}
		o.metrics.RecordGauge("orchestrator_job_progress", job.ProgressFraction, map[string]string{"job_id": jobID})
		o.publish(jobID, "chunk.checkpointed", map[string]any{
			"index_in_order": checkpoint.IndexInOrder,
			"progress":       job.ProgressFraction,
		})

		if o.abortConditionMet(job) {
			reason := "failure_rate_exceeded"
			o.logger.Error("job aborted", map[string]any{"job_id": jobID, "reason": reason})
			return o.finalize(ctx, job, models.JobStatusFailed, &reason)
		}
	}

	return o.finalize(ctx, job, models.JobStatusCompleted, nil)
}

// Pause performs the RUNNING -> PAUSED compare-and-set of spec.md
// §4.E; the running worker loop observes it at the next chunk
// boundary inside Run.
func (o *Orchestrator) Pause(ctx context.Context, jobID string) (bool, error) {
	return o.store.TransitionJob(ctx, jobID, models.JobStatusRunning, models.JobStatusPaused, store.JobPatch{})
}

// Resume performs the PAUSED -> RUNNING compare-and-set and then
// drives the job forward from its checkpointed resume point.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (bool, error) {
	ok, err := o.store.TransitionJob(ctx, jobID, models.JobStatusPaused, models.JobStatusRunning, store.JobPatch{})
	if err != nil || !ok {
		return ok, err
	}
	return true, o.Run(ctx, jobID)
}

// Cancel transitions a RUNNING or PAUSED job to CANCELLED.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusRunning && job.Status != models.JobStatusPaused {
		return false, nil
	}
	return o.store.TransitionJob(ctx, jobID, job.Status, models.JobStatusCancelled, store.JobPatch{})
}

// remainingOrder computes processing_order[index_of(last_processed_file)+1:]
// per spec.md §4.E's Pause/Resume subsection, returning the full order
// from the start if last_processed_file is nil or no longer present.
func remainingOrder(job *models.Job) ([]string, int) {
	order := job.ProcessingOrder
	if job.LastProcessedFile == nil {
		return order, 0
	}
	for i, p := range order {
		if p == *job.LastProcessedFile {
			return order[i+1:], i + 1
		}
	}
	return order, 0
}

// abortConditionMet implements spec.md §4.E's abort rule: processed +
// failed >= AbortMinSamples AND failed / (processed + failed) >
// AbortFailureRate.
func (o *Orchestrator) abortConditionMet(job *models.Job) bool {
	attempted := job.ProcessedFiles + job.FailedFiles
	if attempted < o.cfg.AbortMinSamples {
		return false
	}
	return float64(job.FailedFiles)/float64(attempted) > o.cfg.AbortFailureRate
}

// finalize implements spec.md §4.E's Finalization subsection, which
// runs identically whether all chunks completed or the abort rule
// fired: SKIP any file still in a non-terminal status, write a
// RepositorySnapshot, and transition to targetStatus (COMPLETED when
// all chunks ran clean, FAILED when the abort rule cut the job short).
func (o *Orchestrator) finalize(ctx context.Context, job *models.Job, targetStatus models.JobStatus, errMessage *string) error {
	for _, status := range []models.FileStatus{models.FileStatusPending, models.FileStatusProcessing} {
		files, err := o.store.ListFilesByStatus(ctx, job.ID, status, maxFinalizeScan)
		if err != nil {
			return err
		}
		for _, fs := range files {
			reason := "terminated_before_processed"
			if err := o.store.UpsertFileState(ctx, job.ID, fs.Path, models.FileStatePatch{
				Status:     statusPtr(models.FileStatusSkipped),
				SkipReason: &reason,
			}); err != nil {
				return err
			}
			job.SkippedFiles++
		}
	}

	job.RecomputeProgress()
	job.RecomputeSuccessRate()

	now := time.Now()
	var duration float64
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt).Seconds()
	}

	snapshot, err := o.buildSnapshot(ctx, job, duration)
	if err != nil {
		return err
	}
	if err := o.store.WriteSnapshot(ctx, snapshot); err != nil {
		return err
	}

	_, err = o.store.TransitionJob(ctx, job.ID, models.JobStatusRunning, targetStatus, store.JobPatch{
		ProcessedFiles:   &job.ProcessedFiles,
		FailedFiles:      &job.FailedFiles,
		SkippedFiles:     &job.SkippedFiles,
		ProgressFraction: &job.ProgressFraction,
		SuccessRate:      job.SuccessRate,
		CompletedAt:      &now,
		DurationSeconds:  &duration,
		ErrorMessage:     errMessage,
	})
	if err != nil {
		return err
	}

	eventType := "job.completed"
	if targetStatus == models.JobStatusFailed {
		eventType = "job.failed"
	}
	data := map[string]any{"processed_files": job.ProcessedFiles, "failed_files": job.FailedFiles}
	if errMessage != nil {
		data["error"] = *errMessage
	}
	o.publish(job.ID, eventType, data)
	return nil
}

// buildSnapshot aggregates the job's COMPLETED file rows into the
// RepositorySnapshot of spec.md §3, including the language
// distribution supplement of SPEC_FULL.md §11.
func (o *Orchestrator) buildSnapshot(ctx context.Context, job *models.Job, durationSeconds float64) (*models.RepositorySnapshot, error) {
	completed, err := o.store.ListFilesByStatus(ctx, job.ID, models.FileStatusCompleted, maxFinalizeScan)
	if err != nil {
		return nil, err
	}

	var totalEntities, totalEmbeddings int
	var totalProcessingSeconds float64
	langs := make(map[string]int)
	for _, fs := range completed {
		totalEntities += fs.EntitiesExtracted
		totalEmbeddings += fs.EmbeddingsGenerated
		totalProcessingSeconds += fs.ProcessingDurationSeconds
		if fs.Language != "" {
			langs[fs.Language]++
		}
	}
	avg := 0.0
	if len(completed) > 0 {
		avg = totalProcessingSeconds / float64(len(completed))
	}

	return &models.RepositorySnapshot{
		JobID:                    job.ID,
		RepositoryRoot:           job.RepositoryRoot,
		TotalFiles:               job.TotalFiles,
		ProcessedFiles:           job.ProcessedFiles,
		FailedFiles:              job.FailedFiles,
		SkippedFiles:             job.SkippedFiles,
		TotalEntities:            totalEntities,
		TotalEmbeddings:          totalEmbeddings,
		AverageProcessingSeconds: avg,
		SuccessRate:              job.SuccessRate,
		LanguageDistribution:     langs,
	}, nil
}

func statusPtr(s models.FileStatus) *models.FileStatus { return &s }
