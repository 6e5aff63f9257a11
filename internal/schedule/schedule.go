// Package schedule runs fixed-interval background jobs on a cron scheduler.
//
// Jobs are fire-and-forget: a tick starts even when the previous run of the
// same job has not finished yet, so two runs may overlap.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ///////////////////////////////////////////////
// Scheduler
// ///////////////////////////////////////////////

// Scheduler wraps a [cron.Cron] with explicit Start and Stop.
type Scheduler struct {
	c *cron.Cron
}

// New creates a stopped Scheduler. Panicking jobs are recovered and logged.
func New() *Scheduler {
	logger := slogLogger{}
	return &Scheduler{
		c: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}
}

// Every registers job to run each interval once the scheduler is started.
// Intervals are rounded to whole seconds with a minimum of one second.
func (s *Scheduler) Every(name string, interval time.Duration, job func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be > 0, got %s", name, interval)
	}
	s.c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		slog.Debug("scheduled job running", "job", name)
		job(context.Background())
	}))
	slog.Debug("scheduled job registered", "job", name, "interval", interval.String())
	return nil
}

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop prevents new runs and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.c.Stop()
}

// ///////////////////////////////////////////////
// Logging
// ///////////////////////////////////////////////

// slogLogger adapts slog to [cron.Logger].
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
