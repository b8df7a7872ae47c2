package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterPolicy bounds per-source ingestion.
type LimiterPolicy struct {
	// EventsPerSecond refill rate of the bucket.
	EventsPerSecond float64
	// Burst is the bucket capacity.
	Burst int
}

// Limiter decides whether a source may submit another event.
type Limiter interface {
	Allow(ctx context.Context, source string, cost int) (bool, error)
}

// MemoryLimiter keeps one token bucket per source in process. Suitable
// for single-instance deployments and tests.
type MemoryLimiter struct {
	policy LimiterPolicy

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewMemoryLimiter(policy LimiterPolicy) *MemoryLimiter {
	if policy.EventsPerSecond <= 0 {
		policy.EventsPerSecond = 100
	}
	if policy.Burst <= 0 {
		policy.Burst = int(policy.EventsPerSecond)
	}
	return &MemoryLimiter{
		policy:  policy,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, source string, cost int) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[source]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(l.policy.EventsPerSecond), l.policy.Burst)
		l.buckets[source] = bucket
	}
	l.mu.Unlock()
	return bucket.AllowN(time.Now(), cost), nil
}
