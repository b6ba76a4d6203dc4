// Package config loads the engine's configuration from a YAML file
// layered with REPOINDEX_-prefixed environment variables, following
// the teacher's internal/config.Load viper idiom.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete engine configuration (SPEC_FULL.md §9).
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Server    ServerConfig    `mapstructure:"server"`
	Abort     AbortConfig     `mapstructure:"abort"`
}

// StoreConfig configures the Postgres-backed durable store.
type StoreConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
}

// CacheConfig configures the two-tier embedding cache (spec.md §4.B).
type CacheConfig struct {
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisDB      int    `mapstructure:"redis_db"`
	HotTTLHours  int    `mapstructure:"cache_ttl_hours"`
	LocalLRUSize int    `mapstructure:"local_lru_size"`
}

// EmbeddingConfig configures the embedding provider (spec.md §4.C, §6).
type EmbeddingConfig struct {
	Endpoint             string        `mapstructure:"endpoint"`
	ModelID              string        `mapstructure:"model_id"`
	Dimensions           int           `mapstructure:"dimensions"`
	MaxConcurrency       int           `mapstructure:"embed_max_concurrency"`
	MinBatch             int           `mapstructure:"embed_min_batch"`
	MaxBatch             int           `mapstructure:"embed_max_batch"`
	MaxContentLength     int           `mapstructure:"embed_max_content_length"`
	MaxRetries           int           `mapstructure:"embed_max_retries"`
	RetryBaseDelay       time.Duration `mapstructure:"embed_retry_base_delay"`
	RequestsPerMinute    int           `mapstructure:"requests_per_minute"`
	CBFailureThreshold   uint32        `mapstructure:"cb_failure_threshold"`
	CBRecoveryTimeout    time.Duration `mapstructure:"cb_recovery_timeout"`
	BatchTimeout         time.Duration `mapstructure:"batch_timeout"`
	WorkerMaxMemoryMB    int           `mapstructure:"worker_max_memory_mb"`
	MemoryPressurePct    float64       `mapstructure:"memory_pressure_pct"`
	MemoryCriticalPct    float64       `mapstructure:"memory_critical_pct"`
}

// ChunkingConfig configures the job orchestrator's dynamic chunker
// (spec.md §4.E).
type ChunkingConfig struct {
	MaxFilesPerChunk  int   `mapstructure:"max_files_per_chunk"`
	MaxBytesPerChunk  int64 `mapstructure:"max_bytes_per_chunk"`
	MaxConcurrentChunks int `mapstructure:"max_concurrent_chunks"`
	MaxFileRetries    int   `mapstructure:"max_file_retries"`
}

// AbortConfig configures the job-level abort rule (spec.md §4.E).
type AbortConfig struct {
	FailureRate float64 `mapstructure:"abort_failure_rate"`
	MinSamples  int     `mapstructure:"abort_min_samples"`
}

// QueueConfig configures the durable work queue (spec.md §6).
type QueueConfig struct {
	QueueURL            string `mapstructure:"queue_url"`
	Region              string `mapstructure:"region"`
	VisibilityTimeoutSec int32 `mapstructure:"visibility_timeout_seconds"`
}

// ServerConfig configures the thin REST wrapper (spec.md §6).
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from REPOINDEX_CONFIG_FILE (default
// configs/config.yaml) and REPOINDEX_-prefixed environment variables,
// applying defaults for everything spec.md §6 names.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("REPOINDEX_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("REPOINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
		// No config file is fine; defaults + env vars still apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register these keys with viper so Unmarshal picks
	// up their REPOINDEX_ environment variables.
	v.SetDefault("store.dsn", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("embedding.endpoint", "")
	v.SetDefault("embedding.model_id", "")
	v.SetDefault("queue.queue_url", "")
	v.SetDefault("queue.region", "")

	v.SetDefault("store.max_open_conns", 20)
	v.SetDefault("store.max_idle_conns", 5)

	v.SetDefault("cache.cache_ttl_hours", 168)
	v.SetDefault("cache.local_lru_size", 10000)
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.embed_max_concurrency", 4)
	v.SetDefault("embedding.embed_min_batch", 32)
	v.SetDefault("embedding.embed_max_batch", 128)
	v.SetDefault("embedding.embed_max_content_length", 8000)
	v.SetDefault("embedding.embed_max_retries", 3)
	v.SetDefault("embedding.embed_retry_base_delay", 500*time.Millisecond)
	v.SetDefault("embedding.requests_per_minute", 100)
	v.SetDefault("embedding.cb_failure_threshold", 5)
	v.SetDefault("embedding.cb_recovery_timeout", 60*time.Second)
	v.SetDefault("embedding.batch_timeout", 30*time.Second)
	v.SetDefault("embedding.worker_max_memory_mb", 2048)
	v.SetDefault("embedding.memory_pressure_pct", 80.0)
	v.SetDefault("embedding.memory_critical_pct", 90.0)

	v.SetDefault("chunking.max_files_per_chunk", 50)
	v.SetDefault("chunking.max_bytes_per_chunk", 10*1024*1024)
	v.SetDefault("chunking.max_concurrent_chunks", 3)
	v.SetDefault("chunking.max_file_retries", 3)

	v.SetDefault("abort.abort_failure_rate", 0.5)
	v.SetDefault("abort.abort_min_samples", 10)

	v.SetDefault("queue.visibility_timeout_seconds", 900)

	v.SetDefault("server.listen_addr", ":8080")
}
