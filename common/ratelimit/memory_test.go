package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mediagrab/common/config"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lim := NewMemoryLimiter(Policy{Limit: 5, Window: time.Minute}, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := lim.CheckRequesterLimit(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		now = now.Add(time.Second)
	}

	res, err := lim.CheckRequesterLimit(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.EqualValues(t, 5, res.CurrentCount)
	assert.EqualValues(t, 55, res.RetryAfterSeconds)

	res, _ = lim.CheckRequesterLimit(ctx, "bob")
	assert.True(t, res.Allowed, "other requesters are independent")

	now = now.Add(56 * time.Second)
	res, _ = lim.CheckRequesterLimit(ctx, "alice")
	assert.True(t, res.Allowed, "oldest request left the window")
}

func TestMemoryLimiterPrune(t *testing.T) {
	now := time.Now()
	lim := NewMemoryLimiter(DefaultPolicy, func() time.Time { return now })
	_, _ = lim.CheckRequesterLimit(context.Background(), "alice")

	now = now.Add(2 * time.Minute)
	lim.Prune()
	assert.Empty(t, lim.hits)
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.RateLimitConfig{MaxRequests: 10, Window: 30 * time.Second})
	assert.Equal(t, Policy{Limit: 10, Window: 30 * time.Second}, p)
	assert.Equal(t, 30, p.windowSeconds())

	assert.Equal(t, DefaultPolicy, PolicyFromConfig(config.RateLimitConfig{}))
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RateLimiter)(nil)
)
