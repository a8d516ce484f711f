// Package timer содержит доменную модель учебного таймера (фокус / перерыв).
// Оставшееся время всегда вычисляется из настенных часов и контрольной точки,
// а не из количества тиков, поэтому таймер переживает приостановку процесса.
package timer

import (
	"fmt"

	"github.com/alem-hub/study-timer/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State — состояние конечного автомата сессии.
type State string

const (
	// StateIdle - таймер не запущен, время не идёт.
	StateIdle State = "idle"

	// StateRunning - идёт обратный отсчёт.
	StateRunning State = "running"

	// StatePaused - отсчёт заморожен на remainingAtCheckpoint.
	StatePaused State = "paused"
)

// IsValid проверяет корректность состояния.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateRunning, StatePaused:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление состояния.
func (s State) String() string {
	return string(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// SessionType — тип сегмента: фокус или перерыв.
type SessionType string

const (
	// SessionTypeFocus - учебный сегмент.
	SessionTypeFocus SessionType = "focus"

	// SessionTypeBreak - перерыв.
	SessionTypeBreak SessionType = "break"
)

// IsValid проверяет корректность типа сессии.
func (t SessionType) IsValid() bool {
	return t == SessionTypeFocus || t == SessionTypeBreak
}

// Opposite возвращает тип следующего сегмента после завершения текущего.
func (t SessionType) Opposite() SessionType {
	if t == SessionTypeFocus {
		return SessionTypeBreak
	}
	return SessionTypeFocus
}

// String возвращает строковое представление типа.
func (t SessionType) String() string {
	return string(t)
}

// Label возвращает человекочитаемое название для уведомлений.
func (t SessionType) Label() string {
	if t == SessionTypeBreak {
		return "Break"
	}
	return "Focus session"
}

// ParseSessionType разбирает строку в SessionType.
func ParseSessionType(s string) (SessionType, error) {
	t := SessionType(s)
	if !t.IsValid() {
		return "", shared.WrapError("timer", "ParseSessionType", shared.ErrUnknownType,
			fmt.Sprintf("unknown session type %q", s), nil)
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE REFERENCE
// ══════════════════════════════════════════════════════════════════════════════

// CourseRef — непрозрачная ссылка на курс, переданная вызывающей стороной.
// Движок её не интерпретирует, только хранит и отдаёт в событии завершения.
type CourseRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// IsZero возвращает true, если ссылка пустая.
func (c *CourseRef) IsZero() bool {
	return c == nil || c.ID == ""
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session — единственный авторитетный экземпляр сессии движка.
// Хэндлы уведомлений сюда не входят: ими владеет планировщик.
type Session struct {
	State                 State       `json:"state"`
	Type                  SessionType `json:"session_type"`
	TotalDurationSeconds  int         `json:"total_duration_seconds"`
	RemainingAtCheckpoint int         `json:"remaining_at_checkpoint"`
	CheckpointTimestamp   int64       `json:"checkpoint_timestamp"`
	Course                *CourseRef  `json:"course,omitempty"`
}

// NewIdleSession создаёт сессию в состоянии idle с полной длительностью.
func NewIdleSession(t SessionType, total int) Session {
	return Session{
		State:                 StateIdle,
		Type:                  t,
		TotalDurationSeconds:  total,
		RemainingAtCheckpoint: total,
	}
}

// Validate проверяет инварианты сессии.
// 0 <= remainingAtCheckpoint <= totalDurationSeconds, известные state и type.
func (s Session) Validate() error {
	if !s.State.IsValid() {
		return shared.WrapError("timer", "Validate", shared.ErrInvalidSession,
			fmt.Sprintf("unknown state %q", s.State), nil)
	}
	if !s.Type.IsValid() {
		return shared.WrapError("timer", "Validate", shared.ErrUnknownType,
			fmt.Sprintf("unknown session type %q", s.Type), nil)
	}
	if s.TotalDurationSeconds <= 0 {
		return shared.WrapError("timer", "Validate", shared.ErrInvalidDuration,
			fmt.Sprintf("total %d", s.TotalDurationSeconds), nil)
	}
	if s.RemainingAtCheckpoint < 0 || s.RemainingAtCheckpoint > s.TotalDurationSeconds {
		return shared.WrapError("timer", "Validate", shared.ErrInvalidSession,
			fmt.Sprintf("remaining %d outside [0, %d]", s.RemainingAtCheckpoint, s.TotalDurationSeconds), nil)
	}
	if s.CheckpointTimestamp < 0 {
		return shared.WrapError("timer", "Validate", shared.ErrInvalidSession,
			fmt.Sprintf("checkpoint %d before epoch", s.CheckpointTimestamp), nil)
	}
	return nil
}

// MaxCheckpointSkew - на сколько секунд контрольная точка может опережать
// часы (сдвиг NTP, часы другого экземпляра).
const MaxCheckpointSkew int64 = 300

// ValidateAt проверяет инварианты и то, что контрольная точка running-сессии
// не лежит в будущем относительно now. Такая точка держала бы остаток равным
// total, пока часы её не догонят.
func (s Session) ValidateAt(now int64) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.State == StateRunning && s.CheckpointTimestamp > now+MaxCheckpointSkew {
		return shared.WrapError("timer", "Validate", shared.ErrInvalidSession,
			fmt.Sprintf("checkpoint %d is ahead of now %d", s.CheckpointTimestamp, now), nil)
	}
	return nil
}

// Clone возвращает глубокую копию сессии.
func (s Session) Clone() Session {
	out := s
	if s.Course != nil {
		c := *s.Course
		out.Course = &c
	}
	return out
}

// Equal сравнивает две сессии по значению.
func (s Session) Equal(o Session) bool {
	if s.State != o.State || s.Type != o.Type ||
		s.TotalDurationSeconds != o.TotalDurationSeconds ||
		s.RemainingAtCheckpoint != o.RemainingAtCheckpoint ||
		s.CheckpointTimestamp != o.CheckpointTimestamp {
		return false
	}
	if s.Course.IsZero() || o.Course.IsZero() {
		return s.Course.IsZero() && o.Course.IsZero()
	}
	return *s.Course == *o.Course
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKPOINT CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// ComputeRemaining вычисляет оставшееся время на момент now (epoch seconds).
//
// В состоянии running: clamp(remainingAtCheckpoint - (now - checkpointTs), 0, total).
// Если часы ушли назад, elapsed отрицательный и остаток может вырасти, но не выше total.
// В остальных состояниях время не идёт: возвращается remainingAtCheckpoint.
func ComputeRemaining(s Session, now int64) int {
	if s.State != StateRunning {
		return s.RemainingAtCheckpoint
	}
	elapsed := now - s.CheckpointTimestamp
	remaining := int64(s.RemainingAtCheckpoint) - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > int64(s.TotalDurationSeconds) {
		return s.TotalDurationSeconds
	}
	return int(remaining)
}

// Checkpoint переносит вычисленный остаток в сессию и обновляет контрольную точку.
func (s *Session) Checkpoint(now int64) {
	s.RemainingAtCheckpoint = ComputeRemaining(*s, now)
	s.CheckpointTimestamp = now
}
