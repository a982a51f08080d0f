package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyzr/mediagrab/common/cache"
	"github.com/lyzr/mediagrab/common/config"
	"github.com/lyzr/mediagrab/common/db"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/redis"
	"github.com/lyzr/mediagrab/common/telemetry"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Redis     *redis.Client
	Cache     cache.Cache
	Telemetry *telemetry.Telemetry

	cleanupFuncs []func() error
}

// Shutdown runs cleanup functions in reverse order of registration
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks the external dependencies that were opened
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
