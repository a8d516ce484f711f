// Package jobs contains the timer daemon's scheduled jobs.
package jobs

import (
	"context"
	"log/slog"
)

// TickJobName is the scheduler name of the tick job.
const TickJobName = "timer_tick"

// Ticker is the engine operation driven by TickJob.
type Ticker interface {
	// Tick re-derives the remaining time and completes the segment when it
	// reaches zero. It returns true when a segment completed.
	Tick(ctx context.Context) bool
}

// TickJob drives the engine's display tick and completion check.
// The tick never counts time itself; a missed tick only delays completion
// detection until the next one.
type TickJob struct {
	ticker Ticker
	logger *slog.Logger
}

// NewTickJob creates a tick job.
func NewTickJob(ticker Ticker, logger *slog.Logger) *TickJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickJob{
		ticker: ticker,
		logger: logger.With("job", TickJobName),
	}
}

// Name implements scheduler.Job.
func (j *TickJob) Name() string {
	return TickJobName
}

// Description implements scheduler.Job.
func (j *TickJob) Description() string {
	return "Refreshes the countdown and detects segment completion"
}

// Run implements scheduler.Job.
func (j *TickJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return nil
	}
	if j.ticker.Tick(ctx) {
		j.logger.Info("segment completed on tick")
	}
	return nil
}
