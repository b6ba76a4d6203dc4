package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the hot tier's Redis connection, grounded on
// the teacher's pkg/cache.RedisConfig (same field set, ported to
// go-redis/v9's redis.Options).
type RedisConfig struct {
	Address      string
	Username     string
	Password     string
	Database     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	UseTLS       bool
}

// NewRedisClient builds and connectivity-checks a go-redis client for
// use as the hot tier (internal/cache.TwoTierCache) or as the Pub/Sub
// connection behind internal/events.Bus.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	options := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.UseTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis hot tier: %w", err)
	}
	return client, nil
}
