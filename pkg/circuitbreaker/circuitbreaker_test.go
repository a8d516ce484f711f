package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errDown = errors.New("backend down")

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cb := New("test", WithFailureThreshold(2))

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, called)
	assert.Equal(t, 1, cb.Counts().Rejected)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Unix(0, 0)}

	var transitions []string
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithClock(clock.Now),
		WithOnStateChange(func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(11 * time.Second)
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.Now))

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, time.Unix(3, 0), cb.Stats().RetryAt)
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.Now))
	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrProbeInFlight)

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateHalfOpen, cb.State(), "default success threshold is 2")
}

func TestCircuitBreaker_CancelledCallerIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	cb := New("test", WithFailureThreshold(1))

	err := cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	ctx := context.Background()
	ignored := errors.New("not found")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, ignored) }),
	)

	_ = cb.Execute(ctx, func(context.Context) error { return ignored })
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Counts().TotalSuccesses)

	stats := cb.Stats()
	assert.Equal(t, "closed", stats.State)
	assert.True(t, stats.RetryAt.IsZero())
}

func TestPresets(t *testing.T) {
	assert.Equal(t, "snapshot-store", SnapshotStoreBreaker(nil).Name())
	assert.Equal(t, "session-history", HistoryBreaker(nil).Name())
}
