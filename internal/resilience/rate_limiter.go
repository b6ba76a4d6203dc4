package resilience

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter implements the "requests per minute" sliding
// window counter of spec.md §4.C.5: when the window is full, the
// caller is delayed until the oldest timestamp ages out. This is a
// deliberate departure from the teacher's golang.org/x/time/rate
// token bucket (internal/resilience/rate_limiter.go) — a token bucket
// refills continuously and cannot express "wait until the oldest
// request in the last N seconds expires", so a small hand-rolled
// window is used instead; registry and naming conventions are kept
// from the teacher.
type SlidingWindowLimiter struct {
	mu         sync.Mutex
	window     time.Duration
	limit      int
	timestamps *list.List // oldest at Front()
	clock      func() time.Time
}

// NewSlidingWindowLimiter creates a limiter admitting at most
// requestsPerWindow calls in any rolling window duration.
func NewSlidingWindowLimiter(requestsPerWindow int, window time.Duration) *SlidingWindowLimiter {
	if requestsPerWindow <= 0 {
		requestsPerWindow = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowLimiter{
		window:     window,
		limit:      requestsPerWindow,
		timestamps: list.New(),
		clock:      time.Now,
	}
}

func (l *SlidingWindowLimiter) evictExpired(now time.Time) {
	cutoff := now.Add(-l.window)
	for l.timestamps.Len() > 0 {
		front := l.timestamps.Front()
		if front.Value.(time.Time).After(cutoff) {
			break
		}
		l.timestamps.Remove(front)
	}
}

// Wait blocks until a slot is available or ctx is cancelled, then
// records the admitted call.
func (l *SlidingWindowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock()
		l.evictExpired(now)
		if l.timestamps.Len() < l.limit {
			l.timestamps.PushBack(now)
			l.mu.Unlock()
			return nil
		}
		oldest := l.timestamps.Front().Value.(time.Time)
		delay := oldest.Add(l.window).Sub(now)
		l.mu.Unlock()
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimiterRegistry holds one SlidingWindowLimiter per named endpoint.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*SlidingWindowLimiter
}

// NewRateLimiterRegistry creates an empty rate limiter registry.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{limiters: make(map[string]*SlidingWindowLimiter)}
}

// Get returns the limiter for name, creating it with the given
// requests-per-minute budget on first use.
func (r *RateLimiterRegistry) Get(name string, requestsPerMinute int) *SlidingWindowLimiter {
	r.mu.RLock()
	l, ok := r.limiters[name]
	r.mu.RUnlock()
	if ok {
		return l
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		return l
	}
	l = NewSlidingWindowLimiter(requestsPerMinute, time.Minute)
	r.limiters[name] = l
	return l
}
