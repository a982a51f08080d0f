package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryLimiter is a per-process sliding-window limiter. Each requester keeps
// the timestamps of its admitted requests inside the current window.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	policy Policy
	now    func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter; now may be nil
func NewMemoryLimiter(policy Policy, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		policy: policy,
		now:    now,
	}
}

// CheckRequesterLimit checks and counts one request for requesterID
func (m *MemoryLimiter) CheckRequesterLimit(_ context.Context, requesterID string) (*RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.policy.Window)

	kept := m.hits[requesterID][:0]
	for _, t := range m.hits[requesterID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if int64(len(kept)) >= m.policy.Limit {
		m.hits[requesterID] = kept
		retry := kept[0].Add(m.policy.Window).Sub(now)
		return &RateLimitResult{
			Allowed:           false,
			CurrentCount:      int64(len(kept)),
			Limit:             m.policy.Limit,
			RetryAfterSeconds: int64(math.Ceil(retry.Seconds())),
		}, nil
	}

	kept = append(kept, now)
	m.hits[requesterID] = kept
	return &RateLimitResult{
		Allowed:      true,
		CurrentCount: int64(len(kept)),
		Limit:        m.policy.Limit,
	}, nil
}

// Prune drops requesters with no requests inside the window
func (m *MemoryLimiter) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.policy.Window)
	for id, hits := range m.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(m.hits, id)
		}
	}
}
