package indexer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/cache"
	"github.com/vosbek/repoindex/internal/embedding"
	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/parser"
	"github.com/vosbek/repoindex/internal/resilience"
	"github.com/vosbek/repoindex/internal/searchbackend"
	"github.com/vosbek/repoindex/internal/store"
)

// fakeStore is a minimal in-memory store.Store stand-in keyed by
// (jobID, path); embedding the interface lets it satisfy store.Store
// while overriding only the methods the indexer actually calls. The
// sqlmock-backed PostgresStore is exercised separately in
// internal/store.
type fakeStore struct {
	store.Store
	mu          sync.Mutex
	files       map[string]*models.FileState
	completed   map[string]*models.FileState // keyed by repoRoot+"|"+path
	deadLetters []*models.DeadLetterEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:     make(map[string]*models.FileState),
		completed: make(map[string]*models.FileState),
	}
}

func (f *fakeStore) RecordError(ctx context.Context, jobID, path, errorKind, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := jobID + "|" + path
	fs, ok := f.files[key]
	if !ok {
		fs = &models.FileState{JobID: jobID, Path: path}
		f.files[key] = fs
	}
	fs.Status = models.FileStatusFailed
	fs.ErrorKind = errorKind
	fs.ErrorMessage = message
	fs.RetryCount++
	return nil
}

func (f *fakeStore) AppendDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, entry)
	return nil
}

func (f *fakeStore) UpsertFileState(ctx context.Context, jobID, path string, patch models.FileStatePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := jobID + "|" + path
	fs, ok := f.files[key]
	if !ok {
		fs = &models.FileState{JobID: jobID, Path: path, Status: models.FileStatusPending}
		f.files[key] = fs
	}
	if patch.Status != nil {
		fs.Status = *patch.Status
	}
	if patch.ContentHash != nil {
		fs.ContentHash = *patch.ContentHash
	}
	if patch.EntitiesExtracted != nil {
		fs.EntitiesExtracted = *patch.EntitiesExtracted
	}
	if patch.EmbeddingsGenerated != nil {
		fs.EmbeddingsGenerated = *patch.EmbeddingsGenerated
	}
	if patch.SkipReason != nil {
		fs.SkipReason = *patch.SkipReason
	}
	if patch.ErrorKind != nil {
		fs.ErrorKind = *patch.ErrorKind
	}
	if patch.ErrorMessage != nil {
		fs.ErrorMessage = *patch.ErrorMessage
	}
	if patch.Language != nil {
		fs.Language = *patch.Language
	}
	return nil
}

func (f *fakeStore) GetFileState(ctx context.Context, jobID, path string) (*models.FileState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fs, ok := f.files[jobID+"|"+path]; ok {
		return fs, nil
	}
	return nil, apperrors.New(apperrors.ClassNotFound, "GetFileState", "not found", nil)
}

func (f *fakeStore) GetCompletedFileState(ctx context.Context, repositoryRoot, path string) (*models.FileState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fs, ok := f.completed[repositoryRoot+"|"+path]; ok {
		return fs, nil
	}
	return nil, apperrors.New(apperrors.ClassNotFound, "GetCompletedFileState", "not found", nil)
}

func (f *fakeStore) seedCompleted(repositoryRoot, path, contentHash string) {
	f.completed[repositoryRoot+"|"+path] = &models.FileState{
		Path: path, Status: models.FileStatusCompleted, ContentHash: contentHash,
	}
}

// fakeReader serves file content from an in-memory map instead of disk.
type fakeReader struct{ files map[string]string }

func (r fakeReader) ReadFile(path string) ([]byte, error) {
	if c, ok := r.files[path]; ok {
		return []byte(c), nil
	}
	return nil, apperrors.New(apperrors.ClassNotFound, "ReadFile", "no such file", nil)
}

// fakeBackend records upserted documents for assertions.
type fakeBackend struct {
	mu   sync.Mutex
	docs []*searchbackend.Document
	fail bool
}

func (b *fakeBackend) Upsert(ctx context.Context, doc *searchbackend.Document) error {
	if b.fail {
		return assert.AnError
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = append(b.docs, doc)
	return nil
}
func (b *fakeBackend) DeleteByRepo(ctx context.Context, repoID string) error { return nil }
func (b *fakeBackend) Close() error                                         { return nil }

// memCache is a tiny in-memory cache.EmbeddingCache, same shape as
// internal/embedding's test double.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*models.EmbeddingCacheEntry
}

func newMemCache() *memCache { return &memCache{entries: make(map[string]*models.EmbeddingCacheEntry)} }

func (c *memCache) Get(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[contentHash]
	return e, ok, nil
}

func (c *memCache) Put(ctx context.Context, entry *models.EmbeddingCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.ContentHash] = entry
	return nil
}

func newTestIndexer(t *testing.T, files map[string]string, backend *fakeBackend, provider embedding.Provider) (*Indexer, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	reg := parser.NewBuiltinRegistry()
	svc := embedding.NewService(provider, newMemCache(), embedding.Config{ModelID: "mock-model"},
		resilience.NewRegistry(observability.NopLogger{}), resilience.NewRateLimiterRegistry(),
		observability.NopLogger{}, observability.NopMetricsClient{})
	ix := New(reg, svc, backend, st, fakeReader{files: files}, nil, observability.NopLogger{}, observability.NopMetricsClient{}, Config{MaxRetries: 3})
	return ix, st
}

func TestIndexer_IndexFile_UnsupportedExtensionIsSkipped(t *testing.T) {
	backend := &fakeBackend{}
	ix, st := newTestIndexer(t, map[string]string{"a.bin": "data"}, backend, embedding.NewMockProvider("mock", 4))
	job := &models.Job{ID: "job-1", RepositoryRoot: "/repo"}

	outcome, err := ix.IndexFile(context.Background(), job, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusSkipped, outcome.Status)
	assert.Equal(t, "unsupported_file_type", outcome.SkipReason)

	fs, err := st.GetFileState(context.Background(), "job-1", "a.bin")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusSkipped, fs.Status)
}

func TestIndexer_IndexFile_UnchangedContentIsSkipped(t *testing.T) {
	src := "package p\n\nfunc F() {}\n"
	backend := &fakeBackend{}
	ix, st := newTestIndexer(t, map[string]string{"f.go": src}, backend, embedding.NewMockProvider("mock", 4))
	job := &models.Job{ID: "job-1", RepositoryRoot: "/repo"}
	st.seedCompleted("/repo", "f.go", cache.ContentHash(src))

	outcome, err := ix.IndexFile(context.Background(), job, "f.go")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusSkipped, outcome.Status)
	assert.Equal(t, "unchanged_content", outcome.SkipReason)
	assert.Empty(t, backend.docs)
}

func TestIndexer_IndexFile_CompletesAndWritesOneDocumentPerEntity(t *testing.T) {
	src := "package p\n\nfunc F() {}\n\nfunc G() {}\n"
	backend := &fakeBackend{}
	ix, st := newTestIndexer(t, map[string]string{"f.go": src}, backend, embedding.NewMockProvider("mock", 4))
	job := &models.Job{ID: "job-1", RepositoryRoot: "/repo"}

	outcome, err := ix.IndexFile(context.Background(), job, "f.go")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, outcome.Status)
	assert.Equal(t, 2, outcome.EntitiesExtracted)
	assert.Equal(t, 2, outcome.EmbeddingsGenerated)
	assert.Len(t, backend.docs, 2)

	fs, err := st.GetFileState(context.Background(), "job-1", "f.go")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, fs.Status)
	assert.Equal(t, 2, fs.EmbeddingsGenerated)
}

func TestIndexer_IndexFile_FailsOnlyWhenZeroEntitiesSucceed(t *testing.T) {
	src := "package p\n\nfunc F() {}\n"
	backend := &fakeBackend{fail: true}
	ix, st := newTestIndexer(t, map[string]string{"f.go": src}, backend, embedding.NewMockProvider("mock", 4))
	job := &models.Job{ID: "job-1", RepositoryRoot: "/repo"}

	outcome, err := ix.IndexFile(context.Background(), job, "f.go")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusFailed, outcome.Status)
	assert.Equal(t, 0, outcome.EmbeddingsGenerated)

	fs, err := st.GetFileState(context.Background(), "job-1", "f.go")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusFailed, fs.Status)
	assert.Equal(t, 1, fs.RetryCount)
	assert.Empty(t, st.deadLetters)
}

func TestIndexer_IndexFile_FailureBelowMaxRetriesDoesNotDeadLetter(t *testing.T) {
	src := "package p\n\nfunc F() {}\n"
	backend := &fakeBackend{fail: true}
	ix, st := newTestIndexer(t, map[string]string{"f.go": src}, backend, embedding.NewMockProvider("mock", 4))
	job := &models.Job{ID: "job-1", RepositoryRoot: "/repo"}
	st.files["job-1|f.go"] = &models.FileState{JobID: "job-1", Path: "f.go", RetryCount: 1}

	_, err := ix.IndexFile(context.Background(), job, "f.go")
	require.NoError(t, err)

	fs, err := st.GetFileState(context.Background(), "job-1", "f.go")
	require.NoError(t, err)
	assert.Equal(t, 2, fs.RetryCount)
	assert.Empty(t, st.deadLetters)
}

func TestIndexer_IndexFile_ExhaustedRetriesAppendsDeadLetter(t *testing.T) {
	src := "package p\n\nfunc F() {}\n"
	backend := &fakeBackend{fail: true}
	ix, st := newTestIndexer(t, map[string]string{"f.go": src}, backend, embedding.NewMockProvider("mock", 4))
	job := &models.Job{ID: "job-1", RepositoryRoot: "/repo"}
	st.files["job-1|f.go"] = &models.FileState{JobID: "job-1", Path: "f.go", RetryCount: 2}

	outcome, err := ix.IndexFile(context.Background(), job, "f.go")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusFailed, outcome.Status)

	require.Len(t, st.deadLetters, 1)
	entry := st.deadLetters[0]
	assert.Equal(t, "job-1", entry.JobID)
	assert.Equal(t, "f.go", entry.Path)
	assert.Equal(t, models.StageIndex, entry.Stage)
	require.Len(t, entry.RetryHistory, 1)
}
