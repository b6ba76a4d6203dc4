// Package searchbackend implements the SearchBackend of spec.md §6:
// "Outputs to the search backend" — a hybrid (vector + metadata)
// search index the indexer upserts one document into per entity.
// Grounded on the teacher's pkg/repository/vector (pgvector-backed
// embeddings repository) since no other example repo carries a
// dedicated search-index client, and the spec's document shape maps
// directly onto that repository's embeddings table.
package searchbackend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is the per-entity search document of spec.md §6.
type Document struct {
	DocID       string    `db:"doc_id"`
	Content     string    `db:"content"`
	Embedding   []float32 `db:"-"`
	Path        string    `db:"path"`
	RepoID      string    `db:"repo_id"`
	Commit      string    `db:"commit_hash"`
	Language    string    `db:"lang"`
	Kind        string    `db:"kind"`
	StartLine   int       `db:"start_line"`
	EndLine     int       `db:"end_line"`
	Tool        string    `db:"tool"`
	ContentHash string    `db:"content_hash"`
	IndexedAt   time.Time `db:"indexed_at"`
}

// DocumentID computes the idempotency key of spec.md §6:
// "SHA-256(content) || entity_id".
func DocumentID(content, entityID string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:]) + entityID
}

// SearchBackend is the hybrid search index the indexer writes to.
// Treated as an external, pluggable collaborator per spec.md §3; this
// package also ships the default Postgres/pgvector-backed
// implementation used when no other index is configured.
type SearchBackend interface {
	// Upsert writes or replaces doc, keyed by doc.DocID. Idempotent.
	Upsert(ctx context.Context, doc *Document) error

	// DeleteByRepo removes every document for a repository. The
	// orchestrator calls it once at the start of a FULL job so that
	// paths removed or renamed since the prior index generation don't
	// linger in search results under a stale repo_id.
	DeleteByRepo(ctx context.Context, repoID string) error

	Close() error
}
