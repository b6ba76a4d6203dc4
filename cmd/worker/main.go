// Command worker runs the JobOrchestrator's receive-process-delete
// loop against the durable queue of spec.md §6: one goroutine pulls
// JobMessages, drives the corresponding job through
// orchestrator.StartJob/Run, and deletes the message only after the
// job reaches a terminal state or a checkpointed pause. Grounded on
// the teacher's apps/worker/internal/worker.RunWorker receive loop,
// generalized from one-shot webhook events to long-running,
// checkpointed jobs and with the graceful-shutdown handling
// SPEC_FULL.md §11 adds on top of it.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"

	"github.com/vosbek/repoindex/internal/cache"
	"github.com/vosbek/repoindex/internal/config"
	"github.com/vosbek/repoindex/internal/embedding"
	"github.com/vosbek/repoindex/internal/events"
	"github.com/vosbek/repoindex/internal/indexer"
	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/orchestrator"
	"github.com/vosbek/repoindex/internal/parser"
	"github.com/vosbek/repoindex/internal/queue"
	"github.com/vosbek/repoindex/internal/resilience"
	"github.com/vosbek/repoindex/internal/searchbackend"
	"github.com/vosbek/repoindex/internal/store"
)

func main() {
	logger := observability.NewLogger("worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgresStore(ctx, store.PostgresConfig{
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		MaxIdleConns: cfg.Store.MaxIdleConns,
	}, logger)
	if err != nil {
		log.Fatalf("connecting to store: %v", err)
	}
	defer func() { _ = st.Close() }()

	searchDB, err := sqlx.ConnectContext(ctx, "postgres", cfg.Store.DSN)
	if err != nil {
		log.Fatalf("connecting search backend: %v", err)
	}
	backend := searchbackend.NewPostgresBackend(searchDB)
	defer func() { _ = backend.Close() }()

	redisClient, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Address: cfg.Cache.RedisAddr,
		Database: cfg.Cache.RedisDB,
	})
	if err != nil {
		log.Fatalf("connecting to redis: %v", err)
	}
	embeddingCache, err := cache.NewTwoTierCache(redisClient, st, cache.Config{
		LocalLRUSize: cfg.Cache.LocalLRUSize,
	}, logger, observability.NopMetricsClient{})
	if err != nil {
		log.Fatalf("building embedding cache: %v", err)
	}

	provider := embedding.NewHTTPProvider(embedding.HTTPProviderConfig{
		Name:     "default",
		Endpoint: cfg.Embedding.Endpoint,
	})
	embeddingSvc := embedding.NewService(provider, embeddingCache, embedding.Config{
		ModelID:           cfg.Embedding.ModelID,
		MaxConcurrency:    cfg.Embedding.MaxConcurrency,
		MinBatch:          cfg.Embedding.MinBatch,
		MaxBatch:          cfg.Embedding.MaxBatch,
		MaxContentLength:  cfg.Embedding.MaxContentLength,
		RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
		MaxRetries:        cfg.Embedding.MaxRetries,
		FailureThreshold:  cfg.Embedding.CBFailureThreshold,
		MaxMemoryMB:       cfg.Embedding.WorkerMaxMemoryMB,
	}, resilience.NewRegistry(logger), resilience.NewRateLimiterRegistry(), logger, observability.NopMetricsClient{})

	parsers := parser.NewBuiltinRegistry()
	ix := indexer.New(parsers, embeddingSvc, backend, st, nil, nil, logger, observability.NopMetricsClient{}, indexer.Config{
		MaxRetries: cfg.Chunking.MaxFileRetries,
	})
	eventBus := events.NewBus(redisClient, logger)
	orch := orchestrator.New(st, ix, backend, nil, orchestrator.Config{
		MaxFilesPerChunk: cfg.Chunking.MaxFilesPerChunk,
		MaxBytesPerChunk: cfg.Chunking.MaxBytesPerChunk,
		AbortFailureRate: cfg.Abort.FailureRate,
		AbortMinSamples:  cfg.Abort.MinSamples,
	}, logger, observability.NopMetricsClient{}, eventBus)

	q, err := queue.New(ctx, queue.Config{
		QueueURL:             cfg.Queue.QueueURL,
		Region:               cfg.Queue.Region,
		VisibilityTimeoutSec: cfg.Queue.VisibilityTimeoutSec,
	})
	if err != nil {
		log.Fatalf("connecting to queue: %v", err)
	}
	defer func() { _ = q.Close() }()

	process := func(ctx context.Context, msg queue.JobMessage) error {
		if msg.Resume {
			_, err := orch.Resume(ctx, msg.JobID)
			return err
		}
		return orch.StartJob(ctx, msg.JobID)
	}

	logger.Info("worker started", nil)
	runLoop(ctx, q, process, logger)
	logger.Info("worker shut down cleanly", nil)
}

// runLoop pulls job messages until ctx is cancelled, dispatching each
// to process. A signal handler installed in main cancels ctx, and the
// same ctx is passed to process, so the cancellation reaches the
// in-flight chunk's calls at once rather than at a chunk boundary: that
// chunk is not finished or checkpointed, and because process then
// returns an error its message is not deleted. process is injected
// as a plain function rather than a concrete *orchestrator.Orchestrator,
// following the teacher's RunWorker(ctx, queueClient, redisClient,
// processFunc) shape, so this loop is testable with a fake queue and a
// fake process func alone.
func runLoop(ctx context.Context, q queue.Queue, process func(ctx context.Context, msg queue.JobMessage) error, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, receipts, err := q.Receive(ctx, 1, 10)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("receiving job message", map[string]any{"error": err.Error()})
			continue
		}

		for i, msg := range messages {
			if err := process(ctx, msg); err != nil {
				logger.Error("job run failed", map[string]any{"job_id": msg.JobID, "error": err.Error()})
				continue
			}
			if err := q.Delete(ctx, receipts[i]); err != nil {
				logger.Error("deleting job message", map[string]any{"job_id": msg.JobID, "error": err.Error()})
			}
		}
	}
}
