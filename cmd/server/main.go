// Command server runs the thin REST wrapper of spec.md §6 over the
// job-control surface: POST /jobs creates a job and enqueues it for
// cmd/worker, everything else reads or signals state the worker and
// orchestrator already own. Grounded on
// apps/rag-loader/cmd/loader/main.go's startAPIServer (gin router,
// http.Server, graceful Shutdown on signal) and
// apps/rag-loader/internal/api.SourceHandler for the handler shape.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
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
	logger := observability.NewLogger("server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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
		Address:  cfg.Cache.RedisAddr,
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

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := NewJobHandler(st, orch, q, eventBus)
	router.POST("/jobs", handler.CreateJob)
	router.GET("/jobs", handler.ListJobs)
	router.GET("/jobs/:id", handler.GetJob)
	router.GET("/jobs/:id/events", handler.StreamJobEvents)
	router.POST("/jobs/:id/pause", handler.PauseJob)
	router.POST("/jobs/:id/resume", handler.ResumeJob)
	router.POST("/jobs/:id/cancel", handler.CancelJob)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server started", map[string]any{"addr": cfg.Server.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", map[string]any{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
}
