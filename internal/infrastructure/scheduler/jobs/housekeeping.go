package jobs

import (
	"context"
	"log/slog"
)

// HousekeepingJob runs a cleanup function on the scheduler, for example
// dropping idle rate-limit buckets of the control API.
type HousekeepingJob struct {
	name        string
	description string
	fn          func(ctx context.Context) error
	logger      *slog.Logger
}

// NewHousekeepingJob creates a housekeeping job.
func NewHousekeepingJob(name, description string, fn func(ctx context.Context) error, logger *slog.Logger) *HousekeepingJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &HousekeepingJob{
		name:        name,
		description: description,
		fn:          fn,
		logger:      logger.With("job", name),
	}
}

// Name implements scheduler.Job.
func (j *HousekeepingJob) Name() string {
	return j.name
}

// Description implements scheduler.Job.
func (j *HousekeepingJob) Description() string {
	return j.description
}

// Run implements scheduler.Job.
func (j *HousekeepingJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := j.fn(ctx); err != nil {
		j.logger.Warn("housekeeping failed", "error", err)
		return err
	}
	return nil
}
