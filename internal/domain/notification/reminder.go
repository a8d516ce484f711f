// Package notification содержит доменную модель локальных напоминаний таймера.
// Напоминание — это "будильник" на платформе: оно срабатывает в заданный момент,
// даже если процесс таймера в этот момент приостановлен.
package notification

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMINDER KIND
// ══════════════════════════════════════════════════════════════════════════════

// Kind определяет тип напоминания.
type Kind string

const (
	// KindCompletion - сегмент закончился.
	// "Focus session complete"
	KindCompletion Kind = "completion"

	// KindProgress - до конца фокус-сегмента осталось немного.
	// "10 minutes left"
	KindProgress Kind = "progress"
)

// IsValid проверяет корректность типа.
func (k Kind) IsValid() bool {
	return k == KindCompletion || k == KindProgress
}

// String возвращает строковое представление типа.
func (k Kind) String() string {
	return string(k)
}

// ══════════════════════════════════════════════════════════════════════════════
// REMINDER
// ══════════════════════════════════════════════════════════════════════════════

// Reminder — запрос на доставку напоминания в момент FireAt.
type Reminder struct {
	// ID - непрозрачный идентификатор (совпадает с хэндлом у движка).
	ID string `json:"id"`

	// Kind - тип напоминания.
	Kind Kind `json:"kind"`

	// SessionType - тип сегмента ("focus" / "break").
	SessionType string `json:"session_type"`

	// Title и Body - текст для показа пользователю.
	Title string `json:"title"`
	Body  string `json:"body"`

	// CourseID - ссылка на курс, если есть.
	CourseID string `json:"course_id,omitempty"`

	// FireAt - момент срабатывания по настенным часам.
	FireAt time.Time `json:"fire_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PLATFORM PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Platform — механизм доставки локальных уведомлений ОС.
// Разрешение может быть отозвано в любой момент.
type Platform interface {
	// PermissionGranted сообщает, разрешены ли уведомления сейчас.
	PermissionGranted(ctx context.Context) bool

	// Schedule регистрирует напоминание и возвращает идентификатор платформы.
	Schedule(ctx context.Context, r Reminder) (string, error)

	// Cancel отменяет напоминание. Отмена уже сработавшего не ошибка.
	Cancel(ctx context.Context, platformID string) error
}

// Deliverer показывает сработавшее напоминание пользователю.
type Deliverer interface {
	Deliver(ctx context.Context, r Reminder) error
}

// DelivererFunc позволяет использовать функцию как Deliverer.
type DelivererFunc func(ctx context.Context, r Reminder) error

// Deliver реализует Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, r Reminder) error {
	return f(ctx, r)
}
