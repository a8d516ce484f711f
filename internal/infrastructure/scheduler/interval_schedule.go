package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job at a fixed interval. When Aligned is set the
// next run lands on a multiple of Interval, so a 1s countdown ticks on whole
// wall-clock seconds.
type IntervalSchedule struct {
	Interval time.Duration
	Aligned  bool
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// NewAlignedSchedule creates an IntervalSchedule aligned to interval boundaries.
func NewAlignedSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval, Aligned: true}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	if s.Interval <= 0 {
		return time.Time{}
	}
	if !s.Aligned {
		return t.Add(s.Interval)
	}
	next := t.Truncate(s.Interval).Add(s.Interval)
	if !next.After(t) {
		next = next.Add(s.Interval)
	}
	return next
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	if s.Aligned {
		return fmt.Sprintf("@every %s (aligned)", s.Interval)
	}
	return fmt.Sprintf("@every %s", s.Interval)
}
