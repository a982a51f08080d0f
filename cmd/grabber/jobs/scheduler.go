// Package jobs runs periodic housekeeping on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lyzr/mediagrab/common/logger"
)

// Scheduler runs named housekeeping tasks
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	log    logger.Interface
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Specs accept the standard 5-field format and
// descriptors such as "@every 30m".
func New(log logger.Interface) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		parser: parser,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every converts an interval into a descriptor spec
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add registers fn under spec
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() {
		start := time.Now()
		fn(s.ctx)
		s.log.Debug("scheduled task finished", "task", name, "duration_ms", time.Since(start).Milliseconds())
	}))
	s.log.Info("task scheduled", "task", name, "schedule", spec, "next_run", schedule.Next(time.Now()).Format(time.RFC3339))
	return nil
}

// Start begins running tasks in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
