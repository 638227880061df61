package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper is the part of the queue sweeper the schedule needs.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweepJob triggers the queue sweeper on a fixed interval. Runs never overlap:
// a tick that fires while a sweep is still running is skipped.
type SweepJob struct {
	cron    gocron.Scheduler
	sweeper Sweeper
}

// NewSweepJob schedules sweeper every interval. Call Start to begin.
func NewSweepJob(sweeper Sweeper, interval time.Duration) (*SweepJob, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	j := &SweepJob{cron: cron, sweeper: sweeper}

	_, err = cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.run),
		gocron.WithName("queue-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = cron.Shutdown()
		return nil, fmt.Errorf("schedule sweeper: %w", err)
	}

	slog.Info("queue sweeper scheduled", "interval", interval)
	return j, nil
}

// Start begins running the schedule.
func (j *SweepJob) Start() {
	j.cron.Start()
}

// Stop waits for a running sweep and stops the schedule.
func (j *SweepJob) Stop() error {
	if err := j.cron.Shutdown(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return nil
}

func (j *SweepJob) run(ctx context.Context) {
	start := time.Now()
	completed, err := j.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("scheduled sweep failed", "error", err)
		return
	}
	slog.Debug("scheduled sweep finished", "completed", completed, "duration_ms", time.Since(start).Milliseconds())
}
