package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/events"
	"github.com/vosbek/repoindex/internal/models"
	"github.com/vosbek/repoindex/internal/orchestrator"
	"github.com/vosbek/repoindex/internal/queue"
	"github.com/vosbek/repoindex/internal/store"
)

// JobHandler exposes the job-control surface of spec.md §6 as a thin
// gin wrapper: it never runs indexing itself, only creates job records
// and hands them to the durable queue for cmd/worker to execute.
// Grounded on apps/rag-loader/internal/api.SourceHandler (handler
// struct holding its dependencies plus a validator.Validate, gin.Context
// methods doing ShouldBindJSON/Param/Query/JSON).
type JobHandler struct {
	store     store.Store
	orch      *orchestrator.Orchestrator
	queue     queue.Queue
	events    *events.Bus
	validator *validator.Validate
}

// NewJobHandler wires a JobHandler. bus may be nil, in which case
// StreamJobEvents reports the stream as unavailable rather than
// panicking (mirroring the teacher's StreamHandler's nil-redisClient
// heartbeat-only fallback).
func NewJobHandler(st store.Store, orch *orchestrator.Orchestrator, q queue.Queue, bus *events.Bus) *JobHandler {
	return &JobHandler{store: st, orch: orch, queue: q, events: bus, validator: validator.New()}
}

// createJobRequest is the validated POST /jobs body. Field names mirror
// models.JobSpec; Type is restricted to the three values spec.md §3
// defines for a job's discovery mode.
type createJobRequest struct {
	RepositoryRoot  string   `json:"repository_root" binding:"required"`
	Type            string   `json:"type" binding:"required,oneof=FULL INCREMENTAL SELECTIVE"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	ForceReindex    bool     `json:"force_reindex"`
}

// CreateJob handles POST /jobs: persists a PENDING job and enqueues a
// JobMessage for a worker to pick up. The HTTP response returns as soon
// as the job is durably recorded, not when indexing finishes.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	spec := models.JobSpec{
		RepositoryRoot:  req.RepositoryRoot,
		Type:            models.JobType(req.Type),
		IncludePatterns: req.IncludePatterns,
		ExcludePatterns: req.ExcludePatterns,
		ForceReindex:    req.ForceReindex,
	}

	jobID, err := h.store.CreateJob(c.Request.Context(), spec)
	if err != nil {
		writeStoreError(c, err, "failed to create job")
		return
	}

	if err := h.queue.Enqueue(c.Request.Context(), queue.JobMessage{JobID: jobID}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job_id": jobID, "status": models.JobStatusPending})
}

// GetJob handles GET /jobs/:id.
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err, "job not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /jobs?limit=N, defaulting to 20 most recent jobs.
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	jobs, err := h.store.ListRecentJobs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// PauseJob handles POST /jobs/:id/pause. The pause takes effect at the
// next chunk boundary the running worker observes (spec.md §4.E), so a
// 200 here means "pause requested", not "job stopped".
func (h *JobHandler) PauseJob(c *gin.Context) {
	h.transition(c, h.orch.Pause, "pause requested", "job is not running")
}

// ResumeJob handles POST /jobs/:id/resume. It does not perform the
// PAUSED -> RUNNING compare-and-set itself: that CAS and the blocking
// Run that follows it both belong to orchestrator.Resume, which the
// worker calls after dequeuing the Resume message this handler
// enqueues. Calling orchestrator.Resume here would run the job to its
// next pause/terminal state inline and block this request for as long
// as that takes; worse, a CAS performed here would already have moved
// the job to RUNNING by the time the worker's own CAS ran, so the
// worker's compare-and-set would fail and the job would never resume.
func (h *JobHandler) ResumeJob(c *gin.Context) {
	jobID := c.Param("id")
	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		writeStoreError(c, err, "job not found")
		return
	}
	if job.Status != models.JobStatusPaused {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not paused"})
		return
	}
	if err := h.queue.Enqueue(c.Request.Context(), queue.JobMessage{JobID: jobID, Resume: true}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue resume"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": "resume requested"})
}

// StreamJobEvents handles GET /jobs/:id/events: an SSE stream of the
// job lifecycle events SPEC_FULL.md §11 adds (job.started,
// chunk.checkpointed, job.completed, job.failed), published by
// whichever worker is running the job. Grounded on
// apps/rest-api/internal/api/handlers/stream_handler.go's StreamTasks
// (SSE headers, heartbeat ticker, nil-client fallback), narrowed from
// a tenant-wide task stream to one job's events.
func (h *JobHandler) StreamJobEvents(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := h.store.GetJob(c.Request.Context(), jobID); err != nil {
		writeStoreError(c, err, "job not found")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if h.events == nil {
		c.SSEvent("error", gin.H{"message": "event stream not configured"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, unsubscribe := h.events.Subscribe(ctx, jobID)
	defer unsubscribe()

	c.SSEvent("connected", gin.H{"job_id": jobID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(event.Type, event)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().Unix()})
			c.Writer.Flush()
		}
	}
}

// CancelJob handles POST /jobs/:id/cancel.
func (h *JobHandler) CancelJob(c *gin.Context) {
	h.transition(c, h.orch.Cancel, "cancel requested", "job is not running or paused")
}

// transition applies a CAS-style orchestrator state change (Pause or
// Cancel both have this applied/error shape) and reports whether the
// compare-and-set was accepted.
func (h *JobHandler) transition(c *gin.Context, fn func(ctx context.Context, jobID string) (bool, error), okMessage, conflictMessage string) {
	jobID := c.Param("id")
	applied, err := fn(c.Request.Context(), jobID)
	if err != nil {
		writeStoreError(c, err, "failed to update job")
		return
	}
	if !applied {
		c.JSON(http.StatusConflict, gin.H{"error": conflictMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": okMessage})
}

func writeStoreError(c *gin.Context, err error, fallback string) {
	if ce, ok := apperrors.As(err); ok && ce.Class == apperrors.ClassNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": fallback})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
