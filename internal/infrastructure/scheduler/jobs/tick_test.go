package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingTicker struct {
	calls    int
	complete bool
}

func (c *countingTicker) Tick(context.Context) bool {
	c.calls++
	return c.complete
}

func TestTickJob(t *testing.T) {
	ticker := &countingTicker{}
	job := NewTickJob(ticker, nil)

	assert.Equal(t, "timer_tick", job.Name())
	assert.NotEmpty(t, job.Description())

	assert.NoError(t, job.Run(context.Background()))
	ticker.complete = true
	assert.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 2, ticker.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, job.Run(ctx))
	assert.Equal(t, 2, ticker.calls, "cancelled context skips the tick")
}

func TestHousekeepingJob(t *testing.T) {
	runs := 0
	job := NewHousekeepingJob("sweep", "Drops idle buckets", func(context.Context) error {
		runs++
		if runs > 1 {
			return errors.New("busy")
		}
		return nil
	}, nil)

	assert.Equal(t, "sweep", job.Name())
	assert.Equal(t, "Drops idle buckets", job.Description())
	assert.NoError(t, job.Run(context.Background()))
	assert.EqualError(t, job.Run(context.Background()), "busy")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, job.Run(ctx))
	assert.Equal(t, 2, runs)
}
