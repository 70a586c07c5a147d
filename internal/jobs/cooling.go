package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"leadline/internal/engine"
	"leadline/internal/lock"
	"leadline/internal/logging"
)

const (
	DefaultSchedule = "0 0 * * *"
	lockKey         = "cooling-sweep"
)

// Sweeper runs one cooling pass.
type Sweeper interface {
	CoolingSweep(ctx context.Context, opts engine.SweepOptions) (engine.SweepReport, error)
}

// CoolingJob schedules the cooling sweep and makes sure only one replica
// runs it at a time.
type CoolingJob struct {
	Sweeper  Sweeper
	Locker   lock.Locker
	Log      logging.Logger
	Options  engine.SweepOptions
	Schedule string
	// Timeout bounds a single run; it also sets the lock TTL.
	Timeout time.Duration

	cron *cron.Cron
}

// RunOnce executes a sweep if the lock is free. It reports ran=false when
// another holder owns the lock.
func (j *CoolingJob) RunOnce(ctx context.Context) (engine.SweepReport, bool, error) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	locker := j.Locker
	if locker == nil {
		locker = lock.Local{}
	}
	lease, err := locker.TryAcquire(ctx, lockKey, timeout)
	if err != nil {
		return engine.SweepReport{}, false, err
	}
	if lease == nil {
		j.log().Info("cooling sweep skipped; lock held elsewhere")
		return engine.SweepReport{}, false, nil
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			j.log().Warn("release sweep lock", "err", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	report, err := j.Sweeper.CoolingSweep(runCtx, j.Options)
	if err != nil {
		return report, true, fmt.Errorf("cooling sweep: %w", err)
	}
	return report, true, nil
}

// Start registers the sweep on its cron schedule and starts the scheduler.
func (j *CoolingJob) Start(ctx context.Context) error {
	schedule := j.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, _, err := j.RunOnce(ctx); err != nil {
			j.log().Error("scheduled cooling sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	j.cron = c
	c.Start()
	j.log().Info("cooling sweep scheduled", "schedule", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *CoolingJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

func (j *CoolingJob) log() logging.Logger {
	if j.Log == nil {
		return logging.Nop()
	}
	return j.Log
}
