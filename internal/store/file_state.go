package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/models"
)

type fileStateRow struct {
	JobID                     string          `db:"job_id"`
	Path                      string          `db:"path"`
	Status                    string          `db:"status"`
	ContentHash               sql.NullString  `db:"content_hash"`
	SizeBytes                 int64           `db:"size_bytes"`
	EntitiesExtracted         int             `db:"entities_extracted"`
	EmbeddingsGenerated       int             `db:"embeddings_generated"`
	ProcessingDurationSeconds float64         `db:"processing_duration_seconds"`
	ErrorKind                 sql.NullString  `db:"error_kind"`
	ErrorMessage              sql.NullString  `db:"error_message"`
	RetryCount                int             `db:"retry_count"`
	SkipReason                sql.NullString  `db:"skip_reason"`
	LastStage                 sql.NullString  `db:"last_stage"`
	LastOffset                int64           `db:"last_offset"`
	Language                  sql.NullString  `db:"language"`
	StartedAt                 sql.NullTime    `db:"started_at"`
	CompletedAt               sql.NullTime    `db:"completed_at"`
	Revision                  int             `db:"revision"`
}

func (r *fileStateRow) toModel() *models.FileState {
	fs := &models.FileState{
		JobID:                     r.JobID,
		Path:                      r.Path,
		Status:                    models.FileStatus(r.Status),
		SizeBytes:                 r.SizeBytes,
		EntitiesExtracted:         r.EntitiesExtracted,
		EmbeddingsGenerated:       r.EmbeddingsGenerated,
		ProcessingDurationSeconds: r.ProcessingDurationSeconds,
		RetryCount:                r.RetryCount,
		LastOffset:                r.LastOffset,
		Revision:                  r.Revision,
	}
	if r.ContentHash.Valid {
		fs.ContentHash = r.ContentHash.String
	}
	if r.ErrorKind.Valid {
		fs.ErrorKind = r.ErrorKind.String
	}
	if r.ErrorMessage.Valid {
		fs.ErrorMessage = r.ErrorMessage.String
	}
	if r.SkipReason.Valid {
		fs.SkipReason = r.SkipReason.String
	}
	if r.LastStage.Valid {
		fs.LastStage = models.Stage(r.LastStage.String)
	}
	if r.Language.Valid {
		fs.Language = r.Language.String
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		fs.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		fs.CompletedAt = &t
	}
	return fs
}

// UpsertFileState inserts a PENDING row on first touch; subsequent
// calls apply patch. A terminal status is never moved back to PENDING
// or PROCESSING, except by the FAILED->PENDING retry transition, which
// bumps revision; the patch's other fields are still applied.
func (s *PostgresStore) UpsertFileState(ctx context.Context, jobID, path string, patch models.FileStatePatch) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "UpsertFileState", "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing fileStateRow
	err = tx.GetContext(ctx, &existing, `SELECT * FROM file_states WHERE job_id = $1 AND path = $2`, jobID, path)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_states (job_id, path, status, size_bytes, revision)
			VALUES ($1, $2, $3, 0, 1)`, jobID, path, models.FileStatusPending); err != nil {
			return apperrors.New(apperrors.ClassInternal, "UpsertFileState", "insert", err)
		}
	case err != nil:
		return apperrors.New(apperrors.ClassInternal, "UpsertFileState", "select", err)
	}

	set, args, idx := buildFileStatePatchSet(patch, existing.toModel())
	if len(set) > 0 {
		query := fmt.Sprintf(`UPDATE file_states SET %s WHERE job_id = $%d AND path = $%d`, joinSet(set), idx, idx+1)
		args = append(args, jobID, path)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return apperrors.New(apperrors.ClassInternal, "UpsertFileState", "update", err)
		}
	}
	return tx.Commit()
}

func buildFileStatePatchSet(patch models.FileStatePatch, existing *models.FileState) ([]string, []any, int) {
	var set []string
	var args []any
	idx := 1
	add := func(col string, val any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}
	if patch.Status != nil {
		next := models.FileState{Status: *patch.Status}
		retry := next.Status == models.FileStatusPending && existing != nil && existing.Status == models.FileStatusFailed
		if retry || existing == nil || !existing.IsTerminal() || next.IsTerminal() {
			add("status", *patch.Status)
		}
		if retry {
			add("revision", existing.Revision+1)
		}
	}
	if patch.ContentHash != nil {
		add("content_hash", *patch.ContentHash)
	}
	if patch.SizeBytes != nil {
		add("size_bytes", *patch.SizeBytes)
	}
	if patch.EntitiesExtracted != nil {
		add("entities_extracted", *patch.EntitiesExtracted)
	}
	if patch.EmbeddingsGenerated != nil {
		add("embeddings_generated", *patch.EmbeddingsGenerated)
	}
	if patch.ProcessingDurationSeconds != nil {
		add("processing_duration_seconds", *patch.ProcessingDurationSeconds)
	}
	if patch.ErrorKind != nil {
		add("error_kind", *patch.ErrorKind)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.SkipReason != nil {
		add("skip_reason", *patch.SkipReason)
	}
	if patch.LastStage != nil {
		add("last_stage", *patch.LastStage)
	}
	if patch.LastOffset != nil {
		add("last_offset", *patch.LastOffset)
	}
	if patch.Language != nil {
		add("language", *patch.Language)
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.IncrementRetryCount {
		set = append(set, "retry_count = retry_count + 1")
	}
	return set, args, idx
}

func (s *PostgresStore) GetFileState(ctx context.Context, jobID, path string) (*models.FileState, error) {
	var row fileStateRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM file_states WHERE job_id = $1 AND path = $2`, jobID, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ClassNotFound, "GetFileState", "no file state for "+path, err)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInternal, "GetFileState", "query", err)
	}
	return row.toModel(), nil
}

// GetCompletedFileState finds the most recent COMPLETED row for path
// across all jobs whose repository_root matches, used for the
// skip-on-unchanged-content check (spec.md §4.D.3) and incremental
// discovery (spec.md §4.E).
func (s *PostgresStore) GetCompletedFileState(ctx context.Context, repositoryRoot, path string) (*models.FileState, error) {
	var row fileStateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT fs.* FROM file_states fs
		JOIN jobs j ON j.id = fs.job_id
		WHERE j.repository_root = $1 AND fs.path = $2 AND fs.status = $3
		ORDER BY fs.completed_at DESC NULLS LAST LIMIT 1`,
		repositoryRoot, path, models.FileStatusCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ClassNotFound, "GetCompletedFileState", "no completed state for "+path, err)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInternal, "GetCompletedFileState", "query", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListFilesByStatus(ctx context.Context, jobID string, status models.FileStatus, limit int) ([]*models.FileState, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []fileStateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM file_states WHERE job_id = $1 AND status = $2 ORDER BY path LIMIT $3`,
		jobID, status, limit)
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInternal, "ListFilesByStatus", "query", err)
	}
	out := make([]*models.FileState, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *PostgresStore) RecordError(ctx context.Context, jobID, path, errorKind, message string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE file_states
		SET status = $1, error_kind = $2, error_message = $3, retry_count = retry_count + 1, completed_at = $4
		WHERE job_id = $5 AND path = $6`,
		models.FileStatusFailed, errorKind, message, now, jobID, path)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "RecordError", "update", err)
	}
	return nil
}
