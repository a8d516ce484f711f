// Package circuitbreaker guards the timer's remote backends (the Redis or
// Postgres snapshot store and the session history database) so that a dead
// backend costs one fast error instead of a timeout on every transition.
//
// Closed passes calls through and counts consecutive failures. Open rejects
// calls until the cool-down passes. Half-open lets exactly one probe run at a
// time; enough probe successes close the circuit, one failure reopens it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	// ErrCircuitOpen is returned while the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned in half-open state while the probe runs.
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// IsRejection reports whether err came from the breaker itself rather than
// from the guarded call.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrProbeInFlight)
}

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

type settings struct {
	openAfter  int
	closeAfter int
	coolDown   time.Duration

	onChange  func(name string, from, to State)
	isFailure func(error) bool
	now       func() time.Time
}

// Option adjusts a breaker. Zero and negative values are ignored.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the circuit
// (default 5).
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.openAfter = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive probe successes close it
// again (default 2).
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.closeAfter = n
		}
	}
}

// WithTimeout sets how long the circuit stays open before probing
// (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.coolDown = d
		}
	}
}

// WithOnStateChange registers a transition hook. It runs under the breaker's
// lock and must not call back into the breaker.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) {
		s.onChange = fn
	}
}

// WithIsFailure replaces the failure classifier. By default a cancelled or
// expired caller context does not count against the backend.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) {
		if fn != nil {
			s.isFailure = fn
		}
	}
}

// WithClock sets the time source used for the cool-down.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func backendFault(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// Counts are cumulative except for the two streak fields, which reset on
// every state change.
type Counts struct {
	Requests             int `json:"requests"`
	TotalSuccesses       int `json:"total_successes"`
	TotalFailures        int `json:"total_failures"`
	Rejected             int `json:"rejected"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`
	ConsecutiveFailures  int `json:"consecutive_failures"`
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	set  settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	set := settings{
		openAfter:  5,
		closeAfter: 2,
		coolDown:   30 * time.Second,
		isFailure:  backendFault,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&set)
	}
	return &CircuitBreaker{name: name, set: set}
}

// Execute runs fn unless the circuit rejects the call, and records the
// outcome. Rejections return ErrCircuitOpen or ErrProbeInFlight without
// calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.settle(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.set.now().Before(cb.openedAt.Add(cb.set.coolDown)) {
			cb.counts.Rejected++
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.probing {
			cb.counts.Rejected++
			return ErrProbeInFlight
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := &cb.counts
	c.Requests++
	cb.probing = false

	if err == nil || !cb.set.isFailure(err) {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && c.ConsecutiveSuccesses >= cb.set.closeAfter {
			cb.transition(StateClosed)
		}
		return
	}

	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || c.ConsecutiveFailures >= cb.set.openAfter {
		cb.transition(StateOpen)
		cb.openedAt = cb.set.now()
	}
}

// transition is called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts.ConsecutiveSuccesses, cb.counts.ConsecutiveFailures = 0, 0

	if cb.set.onChange != nil {
		cb.set.onChange(cb.name, from, to)
	}
}

// State returns the current state. An open circuit whose cool-down has
// passed still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a copy of the counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats is a point-in-time view for health and metrics endpoints. RetryAt is
// set only while the circuit is open.
type Stats struct {
	Name    string    `json:"name"`
	State   string    `json:"state"`
	Counts  Counts    `json:"counts"`
	RetryAt time.Time `json:"retry_at,omitempty"`
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := Stats{Name: cb.name, State: cb.state.String(), Counts: cb.counts}
	if cb.state == StateOpen {
		st.RetryAt = cb.openedAt.Add(cb.set.coolDown)
	}
	return st
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotStoreBreaker opens after 3 failures and probes every 15s. Every
// timer transition writes a snapshot, so the store is exercised often.
func SnapshotStoreBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("snapshot-store",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(15*time.Second),
		WithOnStateChange(onStateChange),
	)
}

// HistoryBreaker guards the session history backend, written once per
// completed segment.
func HistoryBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("session-history",
		WithFailureThreshold(5),
		WithTimeout(time.Minute),
		WithOnStateChange(onStateChange),
	)
}
