package models

import "time"

// EmbeddingCacheEntry is keyed by content_hash (see internal/cache for
// the normalization + hashing rule, spec.md §4.B).
type EmbeddingCacheEntry struct {
	ContentHash string `db:"content_hash" json:"content_hash"`

	Embedding  []float32 `db:"embedding" json:"embedding"`
	ModelID    string    `db:"model_id" json:"model_id"`
	Dimensions int       `db:"dimensions" json:"dimensions"`

	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastAccessedAt time.Time `db:"last_accessed_at" json:"last_accessed_at"`
	HitCount       int64     `db:"hit_count" json:"hit_count"`
}

// DeadLetterEntry is an immutable record of a file that failed after
// exhausting retries on a given stage.
type DeadLetterEntry struct {
	ID    string `db:"id" json:"id"`
	JobID string `db:"job_id" json:"job_id"`
	Path  string `db:"path" json:"path"`
	Stage Stage  `db:"stage" json:"stage"`

	ErrorKind    string `db:"error_kind" json:"error_kind"`
	ErrorMessage string `db:"error_message" json:"error_message"`
	RetryHistory []RetryAttempt `db:"retry_history" json:"retry_history,omitempty"`

	Resolved   bool      `db:"resolved" json:"resolved"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RetryAttempt records one attempt in a DeadLetterEntry's history.
type RetryAttempt struct {
	AttemptedAt time.Time `json:"attempted_at"`
	ErrorKind   string    `json:"error_kind"`
	ErrorMessage string   `json:"error_message"`
}
