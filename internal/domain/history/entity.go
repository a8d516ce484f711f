// Package history содержит журнал завершённых учебных сегментов.
// Журнал — тонкая запись в удалённое хранилище: сам таймер о нём не знает,
// записи создаёт обработчик события session.completed.
package history

import (
	"context"
	"time"

	"github.com/alem-hub/study-timer/internal/domain/shared"
)

// StudyLog — одна запись о завершённом сегменте.
type StudyLog struct {
	ID              string    `json:"id"`
	SessionType     string    `json:"session_type"`
	DurationSeconds int       `json:"duration_seconds"`
	CourseID        string    `json:"course_id,omitempty"`
	CourseName      string    `json:"course_name,omitempty"`
	EndedAt         time.Time `json:"ended_at"`
	Retroactive     bool      `json:"retroactive"`
}

// Validate проверяет запись перед сохранением.
func (l StudyLog) Validate() error {
	if l.ID == "" {
		return shared.NewDomainError("history", "Validate", shared.ErrInvalidInput, "log id is empty")
	}
	if l.DurationSeconds <= 0 {
		return shared.NewDomainError("history", "Validate", shared.ErrValueOutOfRange, "duration must be positive")
	}
	if l.EndedAt.IsZero() {
		return shared.NewDomainError("history", "Validate", shared.ErrInvalidInput, "ended_at is empty")
	}
	return nil
}

// Summary — агрегат по журналу за период.
type Summary struct {
	FocusSessions int `json:"focus_sessions"`
	FocusSeconds  int `json:"focus_seconds"`
	BreakSessions int `json:"break_sessions"`
	BreakSeconds  int `json:"break_seconds"`
}

// Add учитывает запись в агрегате.
func (s *Summary) Add(l StudyLog) {
	if l.SessionType == "break" {
		s.BreakSessions++
		s.BreakSeconds += l.DurationSeconds
		return
	}
	s.FocusSessions++
	s.FocusSeconds += l.DurationSeconds
}

// Repository — хранилище журнала.
type Repository interface {
	// Append добавляет запись. Повторная запись с тем же ID игнорируется.
	Append(ctx context.Context, log StudyLog) error

	// Recent возвращает последние записи, новые первыми.
	Recent(ctx context.Context, limit int) ([]StudyLog, error)

	// Since возвращает записи, завершённые не раньше from.
	Since(ctx context.Context, from time.Time) ([]StudyLog, error)
}
