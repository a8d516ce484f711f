// Package timeutil provides the wall-clock abstraction used by the timer engine
// plus countdown formatting helpers.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock is the single source of "now" for the engine. All elapsed time is
// derived from it, never from tick counts.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FakeClock is a manually driven clock for tests and simulations.
// It is safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a fake clock positioned at the given epoch second.
func NewFakeClock(epochSeconds int64) *FakeClock {
	return &FakeClock{now: FromEpoch(epochSeconds)}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to an absolute epoch second. Moving backwards is allowed.
func (c *FakeClock) Set(epochSeconds int64) {
	c.mu.Lock()
	c.now = FromEpoch(epochSeconds)
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Epoch returns the current time of the clock in whole epoch seconds.
func Epoch(c Clock) int64 {
	return c.Now().Unix()
}

// FromEpoch converts whole epoch seconds to a UTC time.
func FromEpoch(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

// Seconds converts a duration to whole seconds, truncating.
func Seconds(d time.Duration) int {
	return int(d / time.Second)
}

// FormatCountdown renders seconds as MM:SS, or H:MM:SS above one hour.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatMinutes renders a lead time for reminder text, e.g. "10 minutes".
func FormatMinutes(seconds int) string {
	mins := seconds / 60
	switch {
	case mins <= 0:
		return "less than a minute"
	case mins == 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", mins)
	}
}

// FormatRelative returns a human-readable relative time string for history views.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d h ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
