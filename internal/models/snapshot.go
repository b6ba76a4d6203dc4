package models

import "time"

// RepositorySnapshot is written once, at successful job finalization.
type RepositorySnapshot struct {
	ID    string `db:"id" json:"id"`
	JobID string `db:"job_id" json:"job_id"`

	RepositoryRoot string `db:"repository_root" json:"repository_root"`

	TotalFiles     int `db:"total_files" json:"total_files"`
	ProcessedFiles int `db:"processed_files" json:"processed_files"`
	FailedFiles    int `db:"failed_files" json:"failed_files"`
	SkippedFiles   int `db:"skipped_files" json:"skipped_files"`

	TotalEntities   int `db:"total_entities" json:"total_entities"`
	TotalEmbeddings int `db:"total_embeddings" json:"total_embeddings"`

	AverageProcessingSeconds float64 `db:"average_processing_seconds" json:"average_processing_seconds"`
	// SuccessRate mirrors Job.SuccessRate's >=10-sample rule.
	SuccessRate *float64 `db:"success_rate" json:"success_rate,omitempty"`

	// LanguageDistribution maps language -> file count, derived from
	// the parser each FileState resolved to (SPEC_FULL.md §11).
	LanguageDistribution map[string]int `db:"language_distribution" json:"language_distribution"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
