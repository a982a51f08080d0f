package main

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/lyzr/mediagrab/cmd/grabber/container"
	"github.com/lyzr/mediagrab/cmd/grabber/jobs"
	"github.com/lyzr/mediagrab/cmd/grabber/routes"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/middleware"
	"github.com/lyzr/mediagrab/common/ratelimit"
	"github.com/lyzr/mediagrab/common/server"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with background housekeeping",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCommand)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	components, c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer components.Shutdown(context.Background())

	start := time.Now()
	c.Service.Recover(ctx)
	components.Telemetry.RecordDuration("recover_pending", start)

	scheduler := jobs.New(components.Logger)
	if err := registerHousekeeping(scheduler, c); err != nil {
		return err
	}
	scheduler.Start()

	e := setupEcho(components.Logger, components.Config.Telemetry.EnableMetrics)
	routes.RegisterHealthRoutes(e, c)
	routes.RegisterAcquisitionRoutes(e, c)

	srv := server.New(serviceName, components.Config.Service.Port, e, components.Logger)
	runErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		components.Logger.Warn("housekeeping did not stop in time", "error", err)
	}
	c.Service.Wait()

	return runErr
}

// setupEcho initializes the Echo server with the service middleware
func setupEcho(log *logger.Logger, withMetrics bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				log.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	}))
	if withMetrics {
		e.Use(middleware.Metrics())
	}
	return e
}

// registerHousekeeping schedules the ledger sweep, the download-folder
// janitor and, for the in-process limiter, window pruning
func registerHousekeeping(s *jobs.Scheduler, c *container.Container) error {
	cfg := c.Components.Config
	log := c.Components.Logger

	if err := s.Add("ledger_sweep", cfg.Ledger.SweepSchedule, func(ctx context.Context) {
		if n := c.Ledger.Sweep(ctx); n > 0 {
			log.Info("ledger swept", "removed", n)
		}
	}); err != nil {
		return err
	}

	if err := s.Add("download_janitor", jobs.Every(cfg.Acquisition.FileCleanupEvery), func(ctx context.Context) {
		n, err := c.Janitor.Sweep(time.Now())
		if err != nil {
			log.Warn("download janitor failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("stale downloads removed", "removed", n)
		}
	}); err != nil {
		return err
	}

	if mem, ok := c.Limiter.(*ratelimit.MemoryLimiter); ok {
		if err := s.Add("limiter_prune", jobs.Every(cfg.RateLimit.Window), func(context.Context) {
			mem.Prune()
		}); err != nil {
			return fmt.Errorf("schedule limiter prune: %w", err)
		}
	}
	return nil
}
