// Package resilient decorates remote key-value backends with retries and a
// circuit breaker.
package resilient

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
	"github.com/alem-hub/study-timer/pkg/retry"
)

// KV wraps a timer.KeyValueStore. Each call is attempted through the breaker;
// inside the breaker transient errors are retried.
type KV struct {
	next    timer.KeyValueStore
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewKV wraps next. Nil breaker or retrier fall back to the store presets.
func NewKV(next timer.KeyValueStore, breaker *circuitbreaker.CircuitBreaker, retrier *retry.Retrier, logger *slog.Logger) *KV {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "resilient_kv")
	if breaker == nil {
		breaker = circuitbreaker.SnapshotStoreBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
	}
	if retrier == nil {
		retrier = retry.StoreRetrier()
	}
	return &KV{
		next:    next,
		breaker: breaker,
		retrier: retrier,
		logger:  logger,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (k *KV) Breaker() *circuitbreaker.CircuitBreaker {
	return k.breaker
}

// Put stores value under key.
func (k *KV) Put(ctx context.Context, key string, value []byte) error {
	return k.call(ctx, func(ctx context.Context) error {
		return k.next.Put(ctx, key, value)
	})
}

// Get returns the value under key.
func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := k.call(ctx, func(ctx context.Context) error {
		v, ok, err := k.next.Get(ctx, key)
		value, found = v, ok
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Delete removes key.
func (k *KV) Delete(ctx context.Context, key string) error {
	return k.call(ctx, func(ctx context.Context) error {
		return k.next.Delete(ctx, key)
	})
}

func (k *KV) call(ctx context.Context, op func(context.Context) error) error {
	return k.breaker.Execute(ctx, func(ctx context.Context) error {
		return k.retrier.Do(ctx, func(ctx context.Context) error {
			err := op(ctx)
			if err == nil {
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return retry.Permanent(err)
			}
			return retry.Retryable(err)
		})
	})
}
