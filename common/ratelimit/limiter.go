package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the limit resets (0 if allowed)
}

// Limiter decides whether a requester may start another request
type Limiter interface {
	CheckRequesterLimit(ctx context.Context, requesterID string) (*RateLimitResult, error)
}

// RateLimiter is the Redis + Lua fixed-window limiter shared by all replicas
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	policy Policy
	logger Logger
}

// NewRateLimiter creates a new rate limiter with embedded Lua script
func NewRateLimiter(redisClient *redis.Client, policy Policy, logger Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		policy: policy,
		logger: logger,
	}
}

// CheckRequesterLimit checks and counts one request for requesterID
func (r *RateLimiter) CheckRequesterLimit(ctx context.Context, requesterID string) (*RateLimitResult, error) {
	return r.checkLimit(ctx, requesterKey(requesterID), r.policy.Limit, r.policy.windowSeconds())
}

// checkLimit executes the rate limit Lua script
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int64, windowSec int) (*RateLimitResult, error) {
	result, err := r.script.Run(ctx, r.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// {allowed, current_count, limit, retry_after}
	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}
	ints := make([]int64, 4)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element %d: %T", i, v)
		}
		ints[i] = n
	}

	res := &RateLimitResult{
		Allowed:           ints[0] == 1,
		CurrentCount:      ints[1],
		Limit:             ints[2],
		RetryAfterSeconds: ints[3],
	}

	if !res.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", res.CurrentCount,
			"limit", limit,
			"retry_after", res.RetryAfterSeconds)
	} else {
		r.logger.Debug("rate limit check passed",
			"key", key,
			"current", res.CurrentCount,
			"limit", limit)
	}

	return res, nil
}

// ResetLimit clears a requester's counter (for testing/admin)
func (r *RateLimiter) ResetLimit(ctx context.Context, requesterID string) error {
	return r.redis.Del(ctx, requesterKey(requesterID)).Err()
}

func requesterKey(requesterID string) string {
	return fmt.Sprintf("rate_limit:requester:%s", requesterID)
}
