package store

import (
	"context"
	"encoding/json"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/models"
)

func (s *PostgresStore) WriteSnapshot(ctx context.Context, snapshot *models.RepositorySnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = newID()
	}
	langDist, err := json.Marshal(snapshot.LanguageDistribution)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "WriteSnapshot", "marshal language distribution", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repository_snapshots (id, job_id, repository_root, total_files, processed_files, failed_files,
			skipped_files, total_entities, total_embeddings, average_processing_seconds, success_rate,
			language_distribution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		snapshot.ID, snapshot.JobID, snapshot.RepositoryRoot, snapshot.TotalFiles, snapshot.ProcessedFiles,
		snapshot.FailedFiles, snapshot.SkippedFiles, snapshot.TotalEntities, snapshot.TotalEmbeddings,
		snapshot.AverageProcessingSeconds, snapshot.SuccessRate, langDist)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "WriteSnapshot", "insert", err)
	}
	return nil
}
