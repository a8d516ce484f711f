// Package retry runs an operation again after transient failures, with
// exponential backoff and jitter. It wraps the remote snapshot backends, the
// session history writer and the Telegram reminder channel.
//
// An error is retried only when the operation marks it with Retryable or
// RetryAfter, or when a custom WithRetryIf policy says so. Permanent stops
// the loop even under a permissive policy.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type verdict uint8

const (
	verdictNone verdict = iota
	verdictRetry
	verdictStop
)

// marked carries a verdict next to the operation's own error. after is the
// wait a server asked for (Telegram's retry_after, for example).
type marked struct {
	err     error
	verdict verdict
	after   time.Duration
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

func mark(err error, v verdict, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, verdict: v, after: after}
}

// Retryable marks err as transient.
func Retryable(err error) error {
	return mark(err, verdictRetry, 0)
}

// RetryAfter marks err as transient and asks for at least d before the next
// attempt. d is still capped by the retrier's max delay.
func RetryAfter(err error, d time.Duration) error {
	return mark(err, verdictRetry, d)
}

// Permanent marks err as final.
func Permanent(err error) error {
	return mark(err, verdictStop, 0)
}

func inspect(err error) (verdict, time.Duration) {
	var m *marked
	if errors.As(err, &m) {
		return m.verdict, m.after
	}
	return verdictNone, 0
}

// strip removes a marker applied directly to err. Markers buried under
// further wrapping stay, so errors.Is/As on the result keep working.
func strip(err error) error {
	if m, ok := err.(*marked); ok {
		return m.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

type policy struct {
	attempts   int
	initial    time.Duration
	ceiling    time.Duration
	multiplier float64
	jitter     float64

	retryIf func(error) bool
	onRetry func(attempt int, err error, delay time.Duration)
}

// Option adjusts a Retrier. Out-of-range values are ignored.
type Option func(*policy)

// WithMaxAttempts sets the number of calls, the first one included.
func WithMaxAttempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithInitialDelay sets the wait before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.initial = d
		}
	}
}

// WithMaxDelay caps every wait, server-requested ones too.
func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.ceiling = d
		}
	}
}

// WithMultiplier sets the growth factor between waits.
func WithMultiplier(m float64) Option {
	return func(p *policy) {
		if m >= 1 {
			p.multiplier = m
		}
	}
}

// WithJitter spreads each wait by +/- j of its length.
func WithJitter(j float64) Option {
	return func(p *policy) {
		if j >= 0 && j <= 1 {
			p.jitter = j
		}
	}
}

// WithRetryIf replaces the default "marked Retryable" test.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) {
		p.retryIf = fn
	}
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *policy) {
		p.onRetry = fn
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier is safe for concurrent use; it holds no per-call state.
type Retrier struct {
	policy policy
}

// New builds a Retrier: 3 attempts, 100ms doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	p := policy{
		attempts:   3,
		initial:    100 * time.Millisecond,
		ceiling:    30 * time.Second,
		multiplier: 2,
		jitter:     0.1,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{policy: p}
}

// Do calls op until it succeeds, fails for good, runs out of attempts or ctx
// ends. A marker applied directly by op is removed from the returned error.
// If ctx is already done before the first call, ctx.Err() is returned.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			if last == nil {
				return ctx.Err()
			}
			return strip(last)
		}

		last = op(ctx)
		if last == nil {
			return nil
		}

		v, after := inspect(last)
		if v == verdictStop || attempt >= r.policy.attempts || !r.retryable(last, v) {
			return strip(last)
		}

		wait := r.calculateDelay(attempt)
		if after > wait {
			wait = min(after, r.policy.ceiling)
		}
		if r.policy.onRetry != nil {
			r.policy.onRetry(attempt, last, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return strip(last)
		}
	}
}

func (r *Retrier) retryable(err error, v verdict) bool {
	if r.policy.retryIf != nil {
		return r.policy.retryIf(err)
	}
	return v == verdictRetry
}

// calculateDelay is initial * multiplier^(attempt-1), capped, then jittered.
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	d := float64(r.policy.initial) * math.Pow(r.policy.multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.policy.ceiling))

	if r.policy.jitter > 0 {
		d *= 1 + r.policy.jitter*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// StoreRetrier is used for snapshot backend calls. The engine holds its lock
// while persisting, so the whole budget stays well under one tick.
func StoreRetrier() *Retrier {
	return New(
		WithMaxAttempts(2),
		WithInitialDelay(20*time.Millisecond),
		WithMaxDelay(100*time.Millisecond),
	)
}

// HistoryRetrier is used for session history writes, which run on the event
// bus workers off the engine lock.
func HistoryRetrier() *Retrier {
	return New(
		WithMaxAttempts(4),
		WithInitialDelay(200*time.Millisecond),
		WithMaxDelay(5*time.Second),
		WithJitter(0.2),
	)
}

// DeliveryRetrier is used for remote reminder channels. Waits are capped at
// 30s: a reminder that lands after the next segment ended is noise.
func DeliveryRetrier(attempts int, initial time.Duration) *Retrier {
	return New(
		WithMaxAttempts(attempts),
		WithInitialDelay(initial),
		WithMaxDelay(30*time.Second),
	)
}
