package timer

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE PORTS
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotStore хранит не более одного снимка сессии.
// Load возвращает nil без ошибки, если снимка нет или он повреждён:
// движок никогда не получает выдуманную сессию.
type SnapshotStore interface {
	Save(ctx context.Context, s Session) error
	Load(ctx context.Context) (*Session, error)
	Clear(ctx context.Context) error
}

// KeyValueStore — минимальный контракт долговременного хранилища.
// Реализации: memory, file, redis, postgres.
type KeyValueStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Delete(ctx context.Context, key string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Handle — непрозрачный идентификатор запланированного уведомления.
type Handle string

// NotificationScheduler планирует локальные напоминания.
// Ошибки не фатальны: отсутствие разрешения означает "нет напоминания".
type NotificationScheduler interface {
	ScheduleCompletion(ctx context.Context, remaining int, t SessionType, course *CourseRef) (Handle, error)
	ScheduleProgress(ctx context.Context, remaining int, t SessionType, course *CourseRef) (Handle, error)
	Cancel(ctx context.Context, h Handle) error
	CancelAll(ctx context.Context, handles []Handle) error
}

// ══════════════════════════════════════════════════════════════════════════════
// DURATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Durations — настроенные длительности сегментов.
type Durations struct {
	Focus time.Duration
	Break time.Duration
}

// DefaultDurations возвращает классические 25/5 минут.
func DefaultDurations() Durations {
	return Durations{
		Focus: 25 * time.Minute,
		Break: 5 * time.Minute,
	}
}

// For возвращает длительность сегмента в секундах.
func (d Durations) For(t SessionType) int {
	if t == SessionTypeBreak {
		return int(d.Break / time.Second)
	}
	return int(d.Focus / time.Second)
}

// ══════════════════════════════════════════════════════════════════════════════
// VIEW
// ══════════════════════════════════════════════════════════════════════════════

// View — снимок состояния для отображения вызывающей стороной.
type View struct {
	State                State       `json:"state"`
	Type                 SessionType `json:"session_type"`
	TotalDurationSeconds int         `json:"total_duration_seconds"`
	RemainingSeconds     int         `json:"remaining_seconds"`
	Course               *CourseRef  `json:"course,omitempty"`
	At                   int64       `json:"at"`
}

// NewView строит View для момента now.
func NewView(s Session, now int64) View {
	c := s.Clone()
	return View{
		State:                c.State,
		Type:                 c.Type,
		TotalDurationSeconds: c.TotalDurationSeconds,
		RemainingSeconds:     ComputeRemaining(c, now),
		Course:               c.Course,
		At:                   now,
	}
}
