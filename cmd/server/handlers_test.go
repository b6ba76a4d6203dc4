package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/orchestrator"
	"github.com/vosbek/repoindex/internal/queue"
	"github.com/vosbek/repoindex/internal/store"
)

// fakeStore embeds store.Store (zero value) so it satisfies the
// interface automatically; only the methods CreateJob/GetJob/
// TransitionJob/ListRecentJobs exercise are overridden, the same
// partial-fake pattern internal/orchestrator's tests use.
type fakeStore struct {
	store.Store
	jobs      map[string]*models.Job
	lastLimit int
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: map[string]*models.Job{}} }

func (f *fakeStore) CreateJob(ctx context.Context, spec models.JobSpec) (string, error) {
	if spec.RepositoryRoot == "" {
		return "", apperrors.New(apperrors.ClassInvalidInput, "CreateJob", "repository_root is required", nil)
	}
	id := "job-1"
	f.jobs[id] = &models.Job{ID: id, RepositoryRoot: spec.RepositoryRoot, Type: spec.Type, Status: models.JobStatusPending}
	return id, nil
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.New(apperrors.ClassNotFound, "GetJob", "job not found: "+id, nil)
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) TransitionJob(ctx context.Context, id string, from, to models.JobStatus, patch store.JobPatch) (bool, error) {
	job, ok := f.jobs[id]
	if !ok {
		return false, apperrors.New(apperrors.ClassNotFound, "TransitionJob", "job not found: "+id, nil)
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	return true, nil
}

func (f *fakeStore) ListRecentJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	f.lastLimit = limit
	var out []*models.Job
	for _, j := range f.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

type fakeQueue struct {
	enqueued []queue.JobMessage
}

func (f *fakeQueue) Enqueue(ctx context.Context, msg queue.JobMessage) error {
	f.enqueued = append(f.enqueued, msg)
	return nil
}
func (f *fakeQueue) Receive(ctx context.Context, max, wait int32) ([]queue.JobMessage, []string, error) {
	return nil, nil, nil
}
func (f *fakeQueue) Delete(ctx context.Context, receiptHandle string) error { return nil }
func (f *fakeQueue) Close() error                                          { return nil }

func newTestHandler() (*JobHandler, *fakeStore, *fakeQueue) {
	st := newFakeStore()
	q := &fakeQueue{}
	orch := orchestrator.New(st, nil, nil, nil, orchestrator.Config{}, observability.NopLogger{}, observability.NopMetricsClient{}, nil)
	return NewJobHandler(st, orch, q, nil), st, q
}

func newTestRouter(h *JobHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/jobs", h.CreateJob)
	router.GET("/jobs", h.ListJobs)
	router.GET("/jobs/:id", h.GetJob)
	router.GET("/jobs/:id/events", h.StreamJobEvents)
	router.POST("/jobs/:id/pause", h.PauseJob)
	router.POST("/jobs/:id/resume", h.ResumeJob)
	router.POST("/jobs/:id/cancel", h.CancelJob)
	return router
}

func TestCreateJob_EnqueuesAndReturnsJobID(t *testing.T) {
	h, _, q := newTestHandler()
	router := newTestRouter(h)

	body, _ := json.Marshal(map[string]any{"repository_root": "/repo", "type": "FULL"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.enqueued) != 1 || q.enqueued[0].JobID != "job-1" {
		t.Fatalf("expected job-1 enqueued, got %+v", q.enqueued)
	}
}

func TestCreateJob_RejectsMissingRepositoryRoot(t *testing.T) {
	h, _, _ := newTestHandler()
	router := newTestRouter(h)

	body, _ := json.Marshal(map[string]any{"type": "FULL"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJob_RejectsInvalidType(t *testing.T) {
	h, _, _ := newTestHandler()
	router := newTestRouter(h)

	body, _ := json.Marshal(map[string]any{"repository_root": "/repo", "type": "BOGUS"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h, _, _ := newTestHandler()
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPauseJob_ConflictWhenNotRunning(t *testing.T) {
	h, st, _ := newTestHandler()
	st.jobs["job-1"] = &models.Job{ID: "job-1", Status: models.JobStatusPending}
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/pause", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPauseJob_Accepted(t *testing.T) {
	h, st, _ := newTestHandler()
	st.jobs["job-1"] = &models.Job{ID: "job-1", Status: models.JobStatusRunning}
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/pause", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if st.jobs["job-1"].Status != models.JobStatusPaused {
		t.Fatalf("expected job to transition to PAUSED, got %s", st.jobs["job-1"].Status)
	}
}

func TestResumeJob_RequiresPausedStatus(t *testing.T) {
	h, st, q := newTestHandler()
	st.jobs["job-1"] = &models.Job{ID: "job-1", Status: models.JobStatusRunning}
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.enqueued) != 0 {
		t.Fatalf("expected no resume message enqueued, got %+v", q.enqueued)
	}
}

func TestResumeJob_EnqueuesResumeMessage(t *testing.T) {
	h, st, q := newTestHandler()
	st.jobs["job-1"] = &models.Job{ID: "job-1", Status: models.JobStatusPaused}
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.enqueued) != 1 || !q.enqueued[0].Resume || q.enqueued[0].JobID != "job-1" {
		t.Fatalf("expected a resume message for job-1, got %+v", q.enqueued)
	}
	// Status is unchanged here; the worker's own orchestrator.Resume
	// performs the PAUSED -> RUNNING compare-and-set.
	if st.jobs["job-1"].Status != models.JobStatusPaused {
		t.Fatalf("expected status to remain PAUSED until the worker picks it up, got %s", st.jobs["job-1"].Status)
	}
}

func TestCancelJob_Accepted(t *testing.T) {
	h, st, _ := newTestHandler()
	st.jobs["job-1"] = &models.Job{ID: "job-1", Status: models.JobStatusRunning}
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if st.jobs["job-1"].Status != models.JobStatusCancelled {
		t.Fatalf("expected job to transition to CANCELLED, got %s", st.jobs["job-1"].Status)
	}
}

func TestListJobs_DefaultsLimit(t *testing.T) {
	h, st, _ := newTestHandler()
	st.jobs["job-1"] = &models.Job{ID: "job-1", Status: models.JobStatusCompleted}
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if st.lastLimit != 20 {
		t.Fatalf("expected default limit 20, got %d", st.lastLimit)
	}
}

func TestStreamJobEvents_NotFound(t *testing.T) {
	h, _, _ := newTestHandler()
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamJobEvents_NoBusConfiguredReportsError(t *testing.T) {
	h, st, _ := newTestHandler()
	st.jobs["job-1"] = &models.Job{ID: "job-1", Status: models.JobStatusRunning}
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 (SSE stream opened), got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("event stream not configured")) {
		t.Fatalf("expected error event in body, got %q", rec.Body.String())
	}
}
