// Package ratelimit bounds per-author submission rates ahead of the
// admission chain. The store abstraction lets a single-node deployment
// run an in-process token bucket while multi-instance deployments share
// buckets through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines the per-author budget.
type Policy struct {
	EventsPerMinute int
	Burst           int
}

// DefaultPolicy allows a generous rate suited to interactive marketplace
// clients; operators tighten it from configuration.
func DefaultPolicy() Policy {
	return Policy{EventsPerMinute: 120, Burst: 20}
}

// Store abstracts the bucket storage. Allow consumes cost tokens from the
// author's bucket and reports whether the submission may proceed.
type Store interface {
	Allow(ctx context.Context, pubkey string, policy Policy, cost int) (bool, error)
}

// MemoryStore keeps one token bucket per author in process. Suitable for
// tests and single-instance deployments; buckets are not shared across
// processes.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*rate.Limiter)}
}

// Allow consumes cost tokens from the author's bucket.
func (s *MemoryStore) Allow(ctx context.Context, pubkey string, policy Policy, cost int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	limiter, ok := s.buckets[pubkey]
	if !ok {
		perSecond := rate.Limit(float64(policy.EventsPerMinute) / 60.0)
		limiter = rate.NewLimiter(perSecond, policy.Burst)
		s.buckets[pubkey] = limiter
	}
	s.mu.Unlock()
	return limiter.AllowN(time.Now(), cost), nil
}
