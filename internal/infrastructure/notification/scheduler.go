// Package notification schedules the timer's local reminders on a platform
// and owns the mapping from opaque engine handles to platform identifiers.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/alem-hub/study-timer/internal/domain/notification"
	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/pkg/timeutil"
)

// DefaultProgressLead is how long before the end of a focus segment the
// progress reminder fires.
const DefaultProgressLead = 600 * time.Second

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// ProgressLead is the lead time of the progress reminder.
	ProgressLead time.Duration

	// ProgressEnabled turns the progress reminder on or off.
	ProgressEnabled bool

	// ProgressFlag, when set, is consulted on every schedule call in
	// addition to ProgressEnabled.
	ProgressFlag func() bool

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultSchedulerConfig returns default configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ProgressLead:    DefaultProgressLead,
		ProgressEnabled: true,
		Logger:          slog.Default(),
	}
}

// Scheduler implements timer.NotificationScheduler.
type Scheduler struct {
	platform domain.Platform
	clock    timeutil.Clock
	config   SchedulerConfig
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[timer.Handle]string // handle -> platform id
}

// NewScheduler creates a scheduler. Permission is queried once here so the
// startup log shows whether reminders will be delivered; it is re-checked on
// every schedule call.
func NewScheduler(ctx context.Context, platform domain.Platform, clock timeutil.Clock, config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ProgressLead <= 0 {
		config.ProgressLead = DefaultProgressLead
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	s := &Scheduler{
		platform: platform,
		clock:    clock,
		config:   config,
		logger:   config.Logger.With("component", "notification_scheduler"),
		pending:  make(map[timer.Handle]string),
	}

	s.logger.Info("notification scheduler ready",
		"permission_granted", platform.PermissionGranted(ctx),
		"progress_enabled", config.ProgressEnabled,
		"progress_lead", config.ProgressLead.String(),
	)
	return s
}

// ScheduleCompletion schedules the end-of-segment reminder.
func (s *Scheduler) ScheduleCompletion(ctx context.Context, remaining int, t timer.SessionType, course *timer.CourseRef) (timer.Handle, error) {
	if remaining <= 0 {
		return "", nil
	}
	r := domain.Reminder{
		Kind:        domain.KindCompletion,
		SessionType: t.String(),
		Title:       t.Label() + " complete",
		Body:        completionBody(t, course),
		FireAt:      s.clock.Now().Add(time.Duration(remaining) * time.Second),
	}
	if !course.IsZero() {
		r.CourseID = course.ID
	}
	return s.schedule(ctx, r)
}

// ScheduleProgress schedules the reminder that fires ProgressLead before the
// end of a focus segment. Break segments and focus segments with no more
// than ProgressLead remaining get no reminder and no handle.
func (s *Scheduler) ScheduleProgress(ctx context.Context, remaining int, t timer.SessionType, course *timer.CourseRef) (timer.Handle, error) {
	lead := timeutil.Seconds(s.config.ProgressLead)
	if !s.progressEnabled() || t != timer.SessionTypeFocus || remaining <= lead {
		return "", nil
	}
	r := domain.Reminder{
		Kind:        domain.KindProgress,
		SessionType: t.String(),
		Title:       timeutil.FormatMinutes(lead) + " left",
		Body:        progressBody(course),
		FireAt:      s.clock.Now().Add(time.Duration(remaining-lead) * time.Second),
	}
	if !course.IsZero() {
		r.CourseID = course.ID
	}
	return s.schedule(ctx, r)
}

func (s *Scheduler) progressEnabled() bool {
	if !s.config.ProgressEnabled {
		return false
	}
	return s.config.ProgressFlag == nil || s.config.ProgressFlag()
}

// Cancel cancels one reminder. Unknown handles are ignored.
func (s *Scheduler) Cancel(ctx context.Context, h timer.Handle) error {
	if h == "" {
		return nil
	}

	s.mu.Lock()
	platformID, ok := s.pending[h]
	delete(s.pending, h)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.platform.Cancel(ctx, platformID); err != nil {
		return shared.WrapError("notification", "Cancel", shared.ErrNotificationFailure,
			fmt.Sprintf("cancel %s", h), err)
	}
	return nil
}

// CancelAll cancels every handle. It attempts all of them and returns the
// first error.
func (s *Scheduler) CancelAll(ctx context.Context, handles []timer.Handle) error {
	var first error
	for _, h := range handles {
		if err := s.Cancel(ctx, h); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Pending returns the number of live handles.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) schedule(ctx context.Context, r domain.Reminder) (timer.Handle, error) {
	if !s.platform.PermissionGranted(ctx) {
		return "", shared.ErrNotificationPermission
	}

	r.ID = uuid.New().String()
	platformID, err := s.platform.Schedule(ctx, r)
	if err != nil {
		return "", shared.WrapError("notification", "Schedule", shared.ErrNotificationFailure,
			fmt.Sprintf("schedule %s reminder", r.Kind), err)
	}

	h := timer.Handle(r.ID)
	s.mu.Lock()
	s.pending[h] = platformID
	s.mu.Unlock()

	s.logger.Debug("reminder scheduled",
		"handle", r.ID,
		"kind", r.Kind.String(),
		"fire_at", r.FireAt.Format(time.RFC3339),
	)
	return h, nil
}

func completionBody(t timer.SessionType, course *timer.CourseRef) string {
	if t == timer.SessionTypeBreak {
		return "Break is over. Ready for the next focus session?"
	}
	if !course.IsZero() && course.Name != "" {
		return fmt.Sprintf("Nice work on %s. Time for a break.", course.Name)
	}
	return "Nice work. Time for a break."
}

func progressBody(course *timer.CourseRef) string {
	if !course.IsZero() && course.Name != "" {
		return fmt.Sprintf("Keep going with %s.", course.Name)
	}
	return "Keep going, almost there."
}
