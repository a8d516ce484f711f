package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker aggregates named checks into one status.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	AddCheck(name string, check HealthCheckFunc)
}

// HealthCheckFunc returns nil when the checked component is fine.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus represents the overall health status of the daemon.
//
// A failed check makes the daemon unhealthy. Only a failed critical check
// makes it not ready: a dead Redis degrades persistence while the countdown
// keeps running.
type HealthStatus struct {
	Healthy bool `json:"healthy"`
	Ready   bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

type registeredCheck struct {
	name     string
	fn       HealthCheckFunc
	critical bool
}

// CompositeHealthChecker runs registered checks concurrently, each under
// its own timeout.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]registeredCheck
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a new composite health checker.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]registeredCheck),
		startTime: time.Now(),
		version:   version,
		timeout:   3 * time.Second,
	}
}

// SetTimeout sets the per-check timeout.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// AddCheck registers a check whose failure degrades the daemon.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(registeredCheck{name: name, fn: check})
}

// AddCriticalCheck registers a check whose failure also fails readiness.
func (c *CompositeHealthChecker) AddCriticalCheck(name string, check HealthCheckFunc) {
	c.add(registeredCheck{name: name, fn: check, critical: true})
}

func (c *CompositeHealthChecker) add(rc registeredCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[rc.name] = rc
}

// Check runs all checks and returns the aggregated status.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make([]registeredCheck, 0, len(c.checks))
	for _, rc := range c.checks {
		checks = append(checks, rc)
	}
	timeout := c.timeout
	c.mu.RUnlock()

	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	g.SetLimit(8)
	for i, rc := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, rc, timeout)
			return nil
		})
	}
	_ = g.Wait()

	status.Checks = make(map[string]CheckResult, len(checks))
	var failed []string
	for i, rc := range checks {
		r := results[i]
		status.Checks[rc.name] = r
		if r.Healthy {
			continue
		}
		status.Healthy = false
		if rc.critical {
			status.Ready = false
		}
		failed = append(failed, rc.name)
	}

	if status.Healthy {
		status.Message = "All checks passed"
	} else {
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func runCheck(ctx context.Context, rc registeredCheck, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := rc.fn(ctx)

	r := CheckResult{
		Healthy:  err == nil,
		Critical: rc.critical,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDEFINED HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is anything with a connectivity probe (Redis cache, Postgres pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck creates a connectivity health check function.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// NewBreakerCheck fails while the breaker is not closed.
func NewBreakerCheck(cb *circuitbreaker.CircuitBreaker) HealthCheckFunc {
	return func(context.Context) error {
		st := cb.Stats()
		if st.State == circuitbreaker.StateClosed.String() {
			return nil
		}
		if !st.RetryAt.IsZero() {
			return fmt.Errorf("circuit %s is %s, next probe at %s",
				st.Name, st.State, st.RetryAt.UTC().Format(time.RFC3339))
		}
		return fmt.Errorf("circuit %s is %s", st.Name, st.State)
	}
}

// NewRecentFailuresCheck fails when latest reports a failure newer than window.
// latest returns the time of the most recent failure (zero if none).
func NewRecentFailuresCheck(window time.Duration, latest func() (time.Time, string)) HealthCheckFunc {
	return func(context.Context) error {
		at, msg := latest()
		if at.IsZero() || time.Since(at) > window {
			return nil
		}
		return fmt.Errorf("recent failure at %s: %s", at.UTC().Format(time.RFC3339), msg)
	}
}

// NewHeartbeatCheck fails when the last beat is missing or older than maxAge.
func NewHeartbeatCheck(maxAge time.Duration, last func() (time.Time, bool)) HealthCheckFunc {
	return func(context.Context) error {
		at, ok := last()
		if !ok {
			return fmt.Errorf("no heartbeat yet")
		}
		if age := time.Since(at); age > maxAge {
			return fmt.Errorf("last heartbeat %s ago", age.Round(time.Second))
		}
		return nil
	}
}
