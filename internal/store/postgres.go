package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
)

// PostgresConfig configures the Postgres-backed store connection.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// PostgresStore implements Store on top of Postgres via sqlx, the
// same pairing the teacher uses in pkg/database (jmoiron/sqlx +
// lib/pq). Optimistic concurrency on Job rows is implemented with a
// monotonically incrementing version column compared-and-set in the
// UPDATE's WHERE clause, following pkg/database's transactional
// read-modify-write idiom.
type PostgresStore struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewPostgresStore opens a connection pool and returns a Store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger observability.Logger) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// jobRow mirrors the jobs table; slice/map columns are stored as JSON
// text, matching the teacher's pattern of marshalling composite
// fields (pkg/repository/vector stores metadata the same way) rather
// than modeling them as separate join tables.
type jobRow struct {
	ID                string          `db:"id"`
	RepositoryRoot    string          `db:"repository_root"`
	Type              string          `db:"type"`
	Status            string          `db:"status"`
	IncludePatterns   json.RawMessage `db:"include_patterns"`
	ExcludePatterns   json.RawMessage `db:"exclude_patterns"`
	ForceReindex      bool            `db:"force_reindex"`
	TotalFiles        int             `db:"total_files"`
	ProcessedFiles    int             `db:"processed_files"`
	FailedFiles       int             `db:"failed_files"`
	SkippedFiles      int             `db:"skipped_files"`
	ProgressFraction  float64         `db:"progress_fraction"`
	CreatedAt         time.Time       `db:"created_at"`
	StartedAt         sql.NullTime    `db:"started_at"`
	CompletedAt       sql.NullTime    `db:"completed_at"`
	DurationSeconds   sql.NullFloat64 `db:"duration_seconds"`
	SuccessRate       sql.NullFloat64 `db:"success_rate"`
	ProcessingOrder   json.RawMessage `db:"processing_order"`
	LastProcessedFile sql.NullString  `db:"last_processed_file"`
	Checkpoint        json.RawMessage `db:"checkpoint"`
	ErrorMessage      sql.NullString  `db:"error_message"`
	Version           int             `db:"version"`
}

func (r *jobRow) toModel() (*models.Job, error) {
	j := &models.Job{
		ID:               r.ID,
		RepositoryRoot:   r.RepositoryRoot,
		Type:             models.JobType(r.Type),
		Status:           models.JobStatus(r.Status),
		ForceReindex:     r.ForceReindex,
		TotalFiles:       r.TotalFiles,
		ProcessedFiles:   r.ProcessedFiles,
		FailedFiles:      r.FailedFiles,
		SkippedFiles:     r.SkippedFiles,
		ProgressFraction: r.ProgressFraction,
		CreatedAt:        r.CreatedAt,
		Version:          r.Version,
	}
	if len(r.IncludePatterns) > 0 {
		if err := json.Unmarshal(r.IncludePatterns, &j.IncludePatterns); err != nil {
			return nil, err
		}
	}
	if len(r.ExcludePatterns) > 0 {
		if err := json.Unmarshal(r.ExcludePatterns, &j.ExcludePatterns); err != nil {
			return nil, err
		}
	}
	if len(r.ProcessingOrder) > 0 {
		if err := json.Unmarshal(r.ProcessingOrder, &j.ProcessingOrder); err != nil {
			return nil, err
		}
	}
	if len(r.Checkpoint) > 0 {
		var cp models.Checkpoint
		if err := json.Unmarshal(r.Checkpoint, &cp); err != nil {
			return nil, err
		}
		j.Checkpoint = &cp
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		j.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	if r.DurationSeconds.Valid {
		d := r.DurationSeconds.Float64
		j.DurationSeconds = &d
	}
	if r.SuccessRate.Valid {
		sr := r.SuccessRate.Float64
		j.SuccessRate = &sr
	}
	if r.LastProcessedFile.Valid {
		lpf := r.LastProcessedFile.String
		j.LastProcessedFile = &lpf
	}
	if r.ErrorMessage.Valid {
		j.ErrorMessage = r.ErrorMessage.String
	}
	return j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, spec models.JobSpec) (string, error) {
	if spec.RepositoryRoot == "" {
		return "", apperrors.New(apperrors.ClassInvalidInput, "CreateJob", "repository_root is required", nil)
	}
	id := newID()
	include, _ := json.Marshal(spec.IncludePatterns)
	exclude, _ := json.Marshal(spec.ExcludePatterns)
	jobType := spec.Type
	if jobType == "" {
		jobType = models.JobTypeFull
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, repository_root, type, status, include_patterns, exclude_patterns, force_reindex,
			total_files, processed_files, failed_files, skipped_files, progress_fraction, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, 0, 0, now(), 1)`,
		id, spec.RepositoryRoot, jobType, models.JobStatusPending, include, exclude, spec.ForceReindex)
	if err != nil {
		return "", apperrors.New(apperrors.ClassInternal, "CreateJob", "inserting job", err)
	}
	return id, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ClassNotFound, "GetJob", "job not found: "+id, err)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInternal, "GetJob", "querying job", err)
	}
	return row.toModel()
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id string, from, to models.JobStatus, patch JobPatch) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, apperrors.New(apperrors.ClassInternal, "TransitionJob", "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	set, args, argIdx := buildPatchSet(patch)
	set = append(set, fmt.Sprintf("status = $%d", argIdx))
	args = append(args, to)
	argIdx++
	set = append(set, "version = version + 1")

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d AND status = $%d`,
		joinSet(set), argIdx, argIdx+1)
	args = append(args, id, from)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperrors.New(apperrors.ClassInternal, "TransitionJob", "update job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.New(apperrors.ClassInternal, "TransitionJob", "rows affected", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, apperrors.New(apperrors.ClassInternal, "TransitionJob", "commit", err)
	}
	return true, nil
}

func (s *PostgresStore) SetProcessingOrder(ctx context.Context, jobID string, order []string) error {
	encoded, err := json.Marshal(order)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "SetProcessingOrder", "marshal order", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET processing_order = $1, total_files = $2
		WHERE id = $3 AND (processing_order IS NULL OR processing_order = '[]'::jsonb)`,
		encoded, len(order), jobID)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "SetProcessingOrder", "update", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.New(apperrors.ClassConflict, "SetProcessingOrder", "processing_order already set for job "+jobID, nil)
	}
	return nil
}

func (s *PostgresStore) PersistCheckpoint(ctx context.Context, jobID string, patch JobPatch) error {
	if patch.Checkpoint != nil {
		current, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if current.Checkpoint != nil && patch.Checkpoint.IndexInOrder < current.Checkpoint.IndexInOrder {
			return apperrors.New(apperrors.ClassConflict, "PersistCheckpoint",
				"checkpoint index_in_processing_order must be monotonic non-decreasing", nil)
		}
	}
	set, args, argIdx := buildPatchSet(patch)
	if len(set) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d`, joinSet(set), argIdx)
	args = append(args, jobID)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return apperrors.New(apperrors.ClassInternal, "PersistCheckpoint", "update job", err)
	}
	return nil
}

func (s *PostgresStore) ListRecentJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM jobs ORDER BY created_at DESC LIMIT $1`, limit); err != nil {
		return nil, apperrors.New(apperrors.ClassInternal, "ListRecentJobs", "query", err)
	}
	out := make([]*models.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// buildPatchSet turns a JobPatch into SQL "col = $n" fragments plus
// positional args, starting at placeholder $1.
func buildPatchSet(patch JobPatch) ([]string, []any, int) {
	var set []string
	var args []any
	idx := 1
	add := func(col string, val any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}
	if patch.TotalFiles != nil {
		add("total_files", *patch.TotalFiles)
	}
	if patch.ProcessedFiles != nil {
		add("processed_files", *patch.ProcessedFiles)
	}
	if patch.FailedFiles != nil {
		add("failed_files", *patch.FailedFiles)
	}
	if patch.SkippedFiles != nil {
		add("skipped_files", *patch.SkippedFiles)
	}
	if patch.ProgressFraction != nil {
		add("progress_fraction", *patch.ProgressFraction)
	}
	if patch.SuccessRate != nil {
		add("success_rate", *patch.SuccessRate)
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.DurationSeconds != nil {
		add("duration_seconds", *patch.DurationSeconds)
	}
	if patch.ProcessingOrder != nil {
		encoded, _ := json.Marshal(patch.ProcessingOrder)
		add("processing_order", encoded)
	}
	if patch.LastProcessedFile != nil {
		add("last_processed_file", *patch.LastProcessedFile)
	}
	if patch.Checkpoint != nil {
		encoded, _ := json.Marshal(patch.Checkpoint)
		add("checkpoint", encoded)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	return set, args, idx
}

func joinSet(set []string) string {
	out := ""
	for i, s := range set {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
