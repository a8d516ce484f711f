// Package scheduler runs the timer daemon's periodic jobs: the 1 Hz engine
// tick and any housekeeping registered next to it. Each job runs on its own
// loop and never overlaps with itself; slots missed while a run overran are
// skipped and counted, never replayed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// Job is one unit of periodic work. Names must be unique per scheduler.
type Job interface {
	Name() string
	Description() string

	// Run does one pass. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}

// Schedule yields run times. A zero time from Next ends the job's loop.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// JobResult describes one finished run.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Error     error
}

// Success reports whether the run returned no error.
func (r *JobResult) Success() bool {
	return r.Error == nil
}

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// SlowRun - runs longer than this are logged at warn level.
	// For the tick job anything near a second means a skipped tick.
	SlowRun time.Duration
}

// DefaultSchedulerConfig returns the daemon's defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:  slog.Default(),
		SlowRun: 500 * time.Millisecond,
	}
}

// Scheduler owns a set of jobs and, between Start and Stop, one goroutine
// per job.
type Scheduler struct {
	slowRun time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	active  *session
}

// entry is a registered job. next and stats are guarded by Scheduler.mu.
type entry struct {
	job      Job
	schedule Schedule
	next     time.Time
	stats    JobStats
}

// session is one Start..Stop span.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	started time.Time
}

// NewScheduler creates an idle scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.SlowRun <= 0 {
		config.SlowRun = defaults.SlowRun
	}

	return &Scheduler{
		slowRun: config.SlowRun,
		logger:  config.Logger.With("component", "scheduler"),
		entries: make(map[string]*entry),
	}
}

// Register adds a job. Jobs registered while running start with the next
// Start.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	name := job.Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[name] != nil {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	s.entries[name] = &entry{
		job:      job,
		schedule: schedule,
		stats: JobStats{
			Name:        name,
			Description: job.Description(),
			Schedule:    schedule.String(),
		},
	}

	s.logger.Info("job registered", "job", name, "schedule", schedule.String())
	return nil
}

// Start launches the job loops. They stop when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return ErrSchedulerAlreadyRunning
	}

	run := &session{started: time.Now()}
	run.ctx, run.cancel = context.WithCancel(ctx)
	s.active = run

	for _, e := range s.entries {
		e.next = e.schedule.Next(run.started)
		run.loops.Add(1)
		go s.loop(run, e)
	}

	s.logger.Info("scheduler started", "jobs_count", len(s.entries))
	return nil
}

// Stop cancels the loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	run := s.active
	s.active = nil
	s.mu.Unlock()

	if run == nil {
		return ErrSchedulerNotRunning
	}
	run.cancel()
	run.loops.Wait()

	s.logger.Info("scheduler stopped", "uptime", time.Since(run.started).String())
	return nil
}

// IsRunning reports whether Start was called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Scheduler) loop(run *session, e *entry) {
	defer run.loops.Done()

	for {
		at := s.nextSlot(e)
		if at.IsZero() {
			return
		}

		wait := time.NewTimer(time.Until(at))
		select {
		case <-wait.C:
			s.runJob(run.ctx, e)
		case <-run.ctx.Done():
			wait.Stop()
			return
		}
	}
}

// nextSlot moves e.next past any slot that is already in the past.
func (s *Scheduler) nextSlot(e *entry) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for !e.next.IsZero() && e.next.Before(now) {
		e.stats.Skipped++
		e.next = e.schedule.Next(e.next)
	}
	return e.next
}

func (s *Scheduler) runJob(ctx context.Context, e *entry) *JobResult {
	name := e.job.Name()
	began := time.Now()

	s.mu.Lock()
	e.next = e.schedule.Next(began)
	s.mu.Unlock()

	res := &JobResult{JobName: name, StartedAt: began}
	res.Error = e.job.Run(ctx)
	res.Duration = time.Since(began)

	s.mu.Lock()
	e.stats.record(res)
	s.mu.Unlock()

	if res.Error != nil {
		s.logger.Error("job failed", "job", name, "duration", res.Duration.String(), "error", res.Error)
	} else if res.Duration > s.slowRun {
		s.logger.Warn("job ran slow", "job", name, "duration", res.Duration.String())
	}
	return res
}

// RunNow runs a job once, outside its schedule. The run still counts in the
// job's stats and pushes its next slot forward.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	s.mu.Lock()
	e := s.entries[jobName]
	s.mu.Unlock()

	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	res := s.runJob(ctx, e)
	return res, res.Error
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// JobStats describes one registered job.
type JobStats struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Schedule     string        `json:"schedule"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	Skipped      int64         `json:"skipped"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
	MaxDuration  time.Duration `json:"max_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
}

func (j *JobStats) record(r *JobResult) {
	j.Runs++
	j.LastRun = r.StartedAt
	j.LastDuration = r.Duration
	j.MaxDuration = max(j.MaxDuration, r.Duration)
	if r.Error != nil {
		j.Failures++
		j.LastError = r.Error.Error()
	}
}

// Stats is a point-in-time view of the scheduler for /metrics.
type Stats struct {
	Running bool       `json:"running"`
	Jobs    []JobStats `json:"jobs"`
}

// Stats returns per-job counters sorted by job name.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{Running: s.active != nil, Jobs: make([]JobStats, 0, len(s.entries))}
	for _, e := range s.entries {
		out.Jobs = append(out.Jobs, e.stats)
	}
	sort.Slice(out.Jobs, func(i, j int) bool { return out.Jobs[i].Name < out.Jobs[j].Name })
	return out
}
