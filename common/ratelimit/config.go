package ratelimit

import (
	"time"

	"github.com/lyzr/mediagrab/common/config"
)

// Policy is the number of requests a requester may make per window
type Policy struct {
	Limit  int64
	Window time.Duration
}

// DefaultPolicy allows five requests per minute per requester
var DefaultPolicy = Policy{
	Limit:  5,
	Window: 60 * time.Second,
}

// PolicyFromConfig builds a Policy from the loaded configuration
func PolicyFromConfig(cfg config.RateLimitConfig) Policy {
	p := Policy{Limit: int64(cfg.MaxRequests), Window: cfg.Window}
	if p.Limit < 1 || p.Window <= 0 {
		return DefaultPolicy
	}
	return p
}

func (p Policy) windowSeconds() int {
	secs := int(p.Window / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
