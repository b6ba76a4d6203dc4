package models

import "time"

// FileStatus is the lifecycle state of one (job, path) pair.
type FileStatus string

const (
	FileStatusPending    FileStatus = "PENDING"
	FileStatusProcessing FileStatus = "PROCESSING"
	FileStatusCompleted  FileStatus = "COMPLETED"
	FileStatusFailed     FileStatus = "FAILED"
	FileStatusSkipped    FileStatus = "SKIPPED"
)

// Stage is the cursor used to resume processing of one large file.
type Stage string

const (
	StageIngest Stage = "INGEST"
	StageEmbed  Stage = "EMBED"
	StageIndex  Stage = "INDEX"
)

// FileState is one row per (job_id, path).
type FileState struct {
	JobID string `db:"job_id" json:"job_id"`
	Path  string `db:"path" json:"path"`

	Status FileStatus `db:"status" json:"status"`

	ContentHash string `db:"content_hash" json:"content_hash,omitempty"`
	SizeBytes   int64  `db:"size_bytes" json:"size_bytes"`

	EntitiesExtracted         int     `db:"entities_extracted" json:"entities_extracted"`
	EmbeddingsGenerated       int     `db:"embeddings_generated" json:"embeddings_generated"`
	ProcessingDurationSeconds float64 `db:"processing_duration_seconds" json:"processing_duration_seconds"`
	ErrorKind                 string  `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage              string  `db:"error_message" json:"error_message,omitempty"`
	RetryCount                int     `db:"retry_count" json:"retry_count"`
	SkipReason                string  `db:"skip_reason" json:"skip_reason,omitempty"`

	LastStage  Stage `db:"last_stage" json:"last_stage,omitempty"`
	LastOffset int64 `db:"last_offset" json:"last_offset"`

	Language string `db:"language" json:"language,omitempty"`

	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	// Revision increments every time a terminal FAILED row is retried,
	// per spec.md §9: "FAILED may return to PENDING if retry_count < max"
	// produces a new FileState revision rather than mutating history away.
	Revision int `db:"revision" json:"revision"`
}

// IsTerminal reports whether status is one that RecomputeProgress counts.
func (f *FileState) IsTerminal() bool {
	switch f.Status {
	case FileStatusCompleted, FileStatusFailed, FileStatusSkipped:
		return true
	default:
		return false
	}
}

// FileStatePatch is a partial update applied by UpsertFileState.
type FileStatePatch struct {
	Status                    *FileStatus
	ContentHash               *string
	SizeBytes                 *int64
	EntitiesExtracted         *int
	EmbeddingsGenerated       *int
	ProcessingDurationSeconds *float64
	ErrorKind                 *string
	ErrorMessage              *string
	SkipReason                *string
	LastStage                 *Stage
	LastOffset                *int64
	Language                  *string
	StartedAt                 *time.Time
	CompletedAt               *time.Time
	IncrementRetryCount       bool
}
