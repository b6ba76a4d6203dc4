// Package models defines the durable data model: Job, FileState,
// RepositorySnapshot, EmbeddingCacheEntry and DeadLetterEntry.
package models

import "time"

// JobType distinguishes how a job discovers its file set.
type JobType string

const (
	JobTypeFull        JobType = "FULL"
	JobTypeIncremental JobType = "INCREMENTAL"
	JobTypeSelective   JobType = "SELECTIVE"
)

// JobStatus is the job lifecycle state.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusPaused    JobStatus = "PAUSED"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Checkpoint is the opaque resume marker persisted after every chunk.
type Checkpoint struct {
	Timestamp        time.Time      `json:"timestamp"`
	IndexInOrder     int            `json:"index_in_processing_order"`
	ChunkSize        int            `json:"chunk_size"`
	ChunkFailed      bool           `json:"chunk_failed"`
	StageCounters    map[string]int `json:"stage_counters,omitempty"`
	AbortReason      string         `json:"abort_reason,omitempty"`
}

// Job is the top-level unit of work: one repository indexing run.
type Job struct {
	ID             string    `db:"id" json:"id"`
	RepositoryRoot string    `db:"repository_root" json:"repository_root"`
	Type           JobType   `db:"type" json:"type"`
	Status         JobStatus `db:"status" json:"status"`

	IncludePatterns []string `db:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string `db:"exclude_patterns" json:"exclude_patterns"`
	ForceReindex    bool     `db:"force_reindex" json:"force_reindex"`

	TotalFiles       int     `db:"total_files" json:"total_files"`
	ProcessedFiles   int     `db:"processed_files" json:"processed_files"`
	FailedFiles      int     `db:"failed_files" json:"failed_files"`
	SkippedFiles     int     `db:"skipped_files" json:"skipped_files"`
	ProgressFraction float64 `db:"progress_fraction" json:"progress_fraction"`

	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationSeconds *float64   `db:"duration_seconds" json:"duration_seconds,omitempty"`

	// SuccessRate is nil until total_attempted >= 10 per spec.md §3.
	SuccessRate *float64 `db:"success_rate" json:"success_rate,omitempty"`

	ProcessingOrder  []string    `db:"processing_order" json:"processing_order,omitempty"`
	LastProcessedFile *string    `db:"last_processed_file" json:"last_processed_file,omitempty"`
	Checkpoint       *Checkpoint `db:"checkpoint" json:"checkpoint,omitempty"`

	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	// Version is used for optimistic-concurrency compare-and-set on status.
	Version int `db:"version" json:"-"`
}

// TotalAttempted is processed + failed, the denominator for SuccessRate.
func (j *Job) TotalAttempted() int {
	return j.ProcessedFiles + j.FailedFiles
}

// RecomputeSuccessRate applies the >=10-sample rule from spec.md §3.
func (j *Job) RecomputeSuccessRate() {
	attempted := j.TotalAttempted()
	if attempted < 10 {
		j.SuccessRate = nil
		return
	}
	rate := float64(j.ProcessedFiles) / float64(attempted)
	j.SuccessRate = &rate
}

// RecomputeProgress updates progress_fraction from the current counters.
func (j *Job) RecomputeProgress() {
	if j.TotalFiles == 0 {
		j.ProgressFraction = 0
		return
	}
	done := j.ProcessedFiles + j.FailedFiles + j.SkippedFiles
	frac := float64(done) / float64(j.TotalFiles)
	if frac > 1 {
		frac = 1
	}
	j.ProgressFraction = frac
}

// JobSpec is the caller-supplied input to CreateJob.
type JobSpec struct {
	RepositoryRoot  string
	Type            JobType
	IncludePatterns []string
	ExcludePatterns []string
	ForceReindex    bool
}
