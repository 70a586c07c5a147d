package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/engine"
	"leadline/internal/lock"
)

type fakeSweeper struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSweeper) CoolingSweep(ctx context.Context, opts engine.SweepOptions) (engine.SweepReport, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return engine.SweepReport{}, errors.New("expected a deadline")
	}
	return engine.SweepReport{Scanned: 3, Cooled: 1}, f.err
}

func TestRunOnceWithLocalLock(t *testing.T) {
	sw := &fakeSweeper{}
	job := &CoolingJob{Sweeper: sw, Timeout: time.Second}
	report, ran, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, int32(1), sw.calls.Load())
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	locker, err := lock.NewRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { locker.Close() })

	held, err := locker.TryAcquire(context.Background(), lockKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	sw := &fakeSweeper{}
	job := &CoolingJob{Sweeper: sw, Locker: locker}
	_, ran, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(0), sw.calls.Load())

	require.NoError(t, held.Release(context.Background()))
	_, ran, err = job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("leadline:lock:"+lockKey))
}

func TestRunOncePropagatesSweepError(t *testing.T) {
	job := &CoolingJob{Sweeper: &fakeSweeper{err: errors.New("db down")}}
	_, ran, err := job.RunOnce(context.Background())
	assert.True(t, ran)
	assert.ErrorContains(t, err, "db down")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	job := &CoolingJob{Sweeper: &fakeSweeper{}, Schedule: "not a cron"}
	assert.Error(t, job.Start(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	job := &CoolingJob{Sweeper: &fakeSweeper{}, Schedule: "@every 1h"}
	require.NoError(t, job.Start(context.Background()))
	job.Stop()
}
