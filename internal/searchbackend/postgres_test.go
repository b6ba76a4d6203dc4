package searchbackend

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockBackend(t *testing.T) (*PostgresBackend, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewPostgresBackend(db), mock
}

func TestPostgresBackend_Upsert(t *testing.T) {
	backend, mock := newMockBackend(t)

	doc := &Document{
		DocID:       "deadbeefentity-1",
		Content:     "func F() {}",
		Embedding:   []float32{0.1, 0.2, 0.3},
		Path:        "pkg/foo/foo.go",
		RepoID:      "repo-1",
		Commit:      "abc123",
		Language:    "go",
		Kind:        "function",
		StartLine:   10,
		EndLine:     12,
		Tool:        "mock-provider",
		ContentHash: "deadbeef",
	}

	mock.ExpectExec(`INSERT INTO search_documents`).
		WithArgs(doc.DocID, doc.Content, sqlmock.AnyArg(), doc.Path, doc.RepoID, doc.Commit,
			doc.Language, doc.Kind, doc.StartLine, doc.EndLine, doc.Tool, doc.ContentHash).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := backend.Upsert(context.Background(), doc)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_Upsert_PropagatesError(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec(`INSERT INTO search_documents`).
		WillReturnError(assert.AnError)

	err := backend.Upsert(context.Background(), &Document{DocID: "x"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_DeleteByRepo(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec(`DELETE FROM search_documents WHERE repo_id = \$1`).
		WithArgs("repo-1").
		WillReturnResult(sqlmock.NewResult(0, 5))

	err := backend.DeleteByRepo(context.Background(), "repo-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
