package delivery

import (
	"context"
	"time"

	"github.com/lyzr/mediagrab/common/config"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/metrics"
	"github.com/lyzr/mediagrab/common/models"
)

// RetryPolicy is a fixed attempt count with linearly growing delay
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// PolicyFromConfig reads the delivery retry settings
func PolicyFromConfig(cfg config.DeliveryConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelay}
}

// RetryingSink retries transient delivery failures
type RetryingSink struct {
	inner  Sink
	policy RetryPolicy
	log    logger.Interface
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingSink wraps inner with policy
func NewRetryingSink(inner Sink, policy RetryPolicy, log logger.Interface) *RetryingSink {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingSink{inner: inner, policy: policy, log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver tries up to MaxAttempts times, waiting attempt×Delay between tries
func (s *RetryingSink) Deliver(ctx context.Context, recipient string, a *models.Artifact, md Metadata) error {
	var err error
	attempt := 1
	for ; attempt <= s.policy.MaxAttempts; attempt++ {
		err = s.inner.Deliver(ctx, recipient, a, md)
		if err == nil {
			metrics.RecordDelivery(true, attempt-1)
			if attempt > 1 {
				s.log.Info("delivery succeeded after retry", "file", a.Filename, "attempt", attempt)
			}
			return nil
		}

		if !IsTransient(err) || attempt == s.policy.MaxAttempts {
			break
		}

		s.log.Warn("delivery failed, retrying",
			"file", a.Filename,
			"attempt", attempt,
			"max_attempts", s.policy.MaxAttempts,
			"error", err,
		)
		if waitErr := s.sleep(ctx, time.Duration(attempt)*s.policy.Delay); waitErr != nil {
			err = waitErr
			break
		}
	}

	metrics.RecordDelivery(false, min(attempt, s.policy.MaxAttempts)-1)
	s.log.Error("delivery failed", "file", a.Filename, "recipient", recipient, "error", err)
	return err
}

// Notify is passed through without retries
func (s *RetryingSink) Notify(ctx context.Context, recipient, text string) error {
	return s.inner.Notify(ctx, recipient, text)
}
