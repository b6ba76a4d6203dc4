package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vosbek/repoindex/internal/apperrors"
)

// RetryConfig configures exponential backoff for a single call site,
// per spec.md §4.C.3: wait = base * 2^attempt, capped at MaxRetries.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Retry runs fn, retrying on classified-transient errors with
// exponential backoff built on cenkalti/backoff/v4 (the same library
// the teacher uses in apps/worker/internal/worker/retry_handler.go and
// pkg/adapters/resilience/retry.go). Permanent.Authorization errors
// (and any non-classified error) are never retried.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (any, error)) (any, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by MaxRetries below, not wall time
	withCtx := backoff.WithContext(bo, ctx)

	var result any
	attempt := 0
	operation := func() error {
		res, err := fn(ctx)
		if err == nil {
			result = res
			return nil
		}
		attempt++
		class := apperrors.ClassOf(err)
		if !class.Retryable() {
			return backoff.Permanent(err)
		}
		if attempt > cfg.MaxRetries {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, withCtx)
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Err
		}
		return nil, err
	}
	return result, nil
}
