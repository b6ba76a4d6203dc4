package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/models"
)

type deadLetterRow struct {
	ID           string          `db:"id"`
	JobID        string          `db:"job_id"`
	Path         string          `db:"path"`
	Stage        string          `db:"stage"`
	ErrorKind    string          `db:"error_kind"`
	ErrorMessage string          `db:"error_message"`
	RetryHistory json.RawMessage `db:"retry_history"`
	Resolved     bool            `db:"resolved"`
	CreatedAt    time.Time       `db:"created_at"`
}

func (r *deadLetterRow) toModel() (*models.DeadLetterEntry, error) {
	entry := &models.DeadLetterEntry{
		ID: r.ID, JobID: r.JobID, Path: r.Path, Stage: models.Stage(r.Stage),
		ErrorKind: r.ErrorKind, ErrorMessage: r.ErrorMessage, Resolved: r.Resolved, CreatedAt: r.CreatedAt,
	}
	if len(r.RetryHistory) > 0 {
		if err := json.Unmarshal(r.RetryHistory, &entry.RetryHistory); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func (s *PostgresStore) AppendDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	history, err := json.Marshal(entry.RetryHistory)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "AppendDeadLetter", "marshal retry history", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letter_entries (id, job_id, path, stage, error_kind, error_message, retry_history, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, now())`,
		entry.ID, entry.JobID, entry.Path, entry.Stage, entry.ErrorKind, entry.ErrorMessage, history)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "AppendDeadLetter", "insert", err)
	}
	return nil
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, jobID string, limit int) ([]*models.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []deadLetterRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM dead_letter_entries WHERE job_id = $1 ORDER BY resolved ASC, created_at DESC LIMIT $2`,
		jobID, limit)
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInternal, "ListDeadLetters", "query", err)
	}
	out := make([]*models.DeadLetterEntry, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *PostgresStore) ResolveDeadLetter(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dead_letter_entries SET resolved = true WHERE id = $1`, id)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "ResolveDeadLetter", "update", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.New(apperrors.ClassNotFound, "ResolveDeadLetter", "no dead letter with id "+id, errors.New("not found"))
	}
	return nil
}
