package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Name() string { return j.name }
func (j funcJob) Description() string { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

func TestIntervalSchedule(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 400_000_000, time.UTC)

	plain := NewIntervalSchedule(time.Second)
	assert.Equal(t, base.Add(time.Second), plain.Next(base))
	assert.Equal(t, "@every 1s", plain.String())

	aligned := NewAlignedSchedule(time.Second)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC), aligned.Next(base))
	onBoundary := time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC)
	assert.Equal(t, onBoundary.Add(time.Second), aligned.Next(onBoundary))
	assert.Contains(t, aligned.String(), "aligned")

	assert.True(t, NewIntervalSchedule(0).Next(base).IsZero())
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	job := funcJob{name: "a", fn: func(context.Context) error { return nil }}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)
}

func TestScheduler_RunsJobsUntilStopped(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	var runs atomic.Int32
	require.NoError(t, s.Register(funcJob{name: "tick", fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())

	stats := s.Stats()
	assert.False(t, stats.Running)
	require.Len(t, stats.Jobs, 1)
	assert.Equal(t, int64(stopped), stats.Jobs[0].Runs)
	assert.Equal(t, "@every 10ms", stats.Jobs[0].Schedule)
}

func TestScheduler_RunNowAndErrors(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	boom := errors.New("boom")

	require.NoError(t, s.Register(funcJob{name: "bad", fn: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "a-good", fn: func(context.Context) error { return nil }}, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, result)
	assert.False(t, result.Success())

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs := s.Stats().Jobs
	require.Len(t, jobs, 2)
	assert.Equal(t, "a-good", jobs[0].Name)
	assert.Equal(t, int64(0), jobs[0].Runs)
	assert.Equal(t, int64(1), jobs[1].Runs)
	assert.Equal(t, int64(1), jobs[1].Failures)
	assert.Equal(t, "boom", jobs[1].LastError)
}

func TestScheduler_SkipsMissedSlots(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	var runs atomic.Int32
	require.NoError(t, s.Register(funcJob{name: "slow", fn: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			time.Sleep(60 * time.Millisecond)
		}
		return nil
	}}, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Positive(t, s.Stats().Jobs[0].Skipped)
}
