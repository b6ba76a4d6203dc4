package searchbackend

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vosbek/repoindex/internal/apperrors"
)

// PostgresBackend implements SearchBackend with pgvector, following
// the same sqlx + lib/pq stack and row-struct idiom as
// internal/store, grounded on the teacher's pkg/repository/vector
// (RepositoryImpl.StoreEmbedding's INSERT ... ON CONFLICT DO UPDATE
// keyed by a stable ID).
type PostgresBackend struct {
	db *sqlx.DB
}

// NewPostgresBackend wraps an already-open *sqlx.DB. Schema is
// provisioned by migrations/0002_search_documents.up.sql.
func NewPostgresBackend(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Upsert(ctx context.Context, doc *Document) error {
	embedding := make(pq.Float64Array, len(doc.Embedding))
	for i, v := range doc.Embedding {
		embedding[i] = float64(v)
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO search_documents (
			doc_id, content, embedding, path, repo_id, commit_hash, lang, kind,
			start_line, end_line, tool, content_hash, indexed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now()
		)
		ON CONFLICT (doc_id) DO UPDATE SET
			content = $2, embedding = $3, path = $4, repo_id = $5, commit_hash = $6,
			lang = $7, kind = $8, start_line = $9, end_line = $10, tool = $11,
			content_hash = $12, indexed_at = now()`,
		doc.DocID, doc.Content, embedding, doc.Path, doc.RepoID, doc.Commit, doc.Language,
		doc.Kind, doc.StartLine, doc.EndLine, doc.Tool, doc.ContentHash)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "SearchBackend.Upsert", "upserting document", err)
	}
	return nil
}

func (b *PostgresBackend) DeleteByRepo(ctx context.Context, repoID string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM search_documents WHERE repo_id = $1`, repoID)
	if err != nil {
		return apperrors.New(apperrors.ClassInternal, "SearchBackend.DeleteByRepo", "deleting documents", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error { return b.db.Close() }
