package resilient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-timer/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
	"github.com/alem-hub/study-timer/pkg/retry"
)

var errFlaky = errors.New("connection reset")

// flakyKV fails the first n calls, then delegates to memory.
type flakyKV struct {
	mu    sync.Mutex
	fails int
	calls int
	inner *memory.KV
}

func (f *flakyKV) step() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errFlaky
	}
	return nil
}

func (f *flakyKV) Put(ctx context.Context, key string, value []byte) error {
	if err := f.step(); err != nil {
		return err
	}
	return f.inner.Put(ctx, key, value)
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := f.step(); err != nil {
		return nil, false, err
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyKV) Delete(ctx context.Context, key string) error {
	if err := f.step(); err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

func fastRetry() *retry.Retrier {
	return retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithJitter(0))
}

func TestKV_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	backend := &flakyKV{fails: 2, inner: memory.NewKV()}
	kv := NewKV(backend, circuitbreaker.New("t", circuitbreaker.WithFailureThreshold(5)), fastRetry(), nil)

	require.NoError(t, kv.Put(ctx, "k", []byte("v")))
	assert.Equal(t, 3, backend.calls)

	got, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", string(got))
}

func TestKV_BreakerOpensAndFailsFast(t *testing.T) {
	ctx := context.Background()
	backend := &flakyKV{fails: 1000, inner: memory.NewKV()}
	breaker := circuitbreaker.New("t", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithTimeout(time.Hour))
	kv := NewKV(backend, breaker, retry.New(retry.WithMaxAttempts(1)), nil)

	assert.ErrorIs(t, kv.Put(ctx, "k", nil), errFlaky)
	assert.ErrorIs(t, kv.Delete(ctx, "k"), errFlaky)
	assert.Equal(t, circuitbreaker.StateOpen, kv.Breaker().State())

	calls := backend.calls
	_, _, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, calls, backend.calls, "open breaker must not reach the backend")
}

func TestKV_DefaultsApplied(t *testing.T) {
	kv := NewKV(memory.NewKV(), nil, nil, nil)
	assert.Equal(t, "snapshot-store", kv.Breaker().Name())
}
