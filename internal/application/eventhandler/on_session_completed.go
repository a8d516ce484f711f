// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-timer/internal/domain/history"
	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
	"github.com/alem-hub/study-timer/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SESSION COMPLETED HANDLER
// Получатель события session.completed: записывает завершённый сегмент
// в журнал занятий.
//
// Движок не ждёт этот обработчик и не знает о его результате. Если журнал
// недоступен, запись теряется, но завершение сегмента уже произошло.
// ═══════════════════════════════════════════════════════════════════════════

// logNamespace - пространство имён для детерминированных ID записей.
// Одно и то же завершение, пришедшее локально и через Redis, даёт один ID.
var logNamespace = uuid.MustParse("6f1c2a4e-93d5-4b8e-a0f7-2c5d9e81b7a3")

// SessionCompletedConfig содержит конфигурацию обработчика.
type SessionCompletedConfig struct {
	// Timeout - ограничение на одну запись в журнал (вместе с повторами).
	Timeout time.Duration

	// Enabled - переключатель записи (feature flag history.record).
	// nil означает "всегда включено".
	Enabled func() bool
}

// DefaultSessionCompletedConfig возвращает конфигурацию по умолчанию.
func DefaultSessionCompletedConfig() SessionCompletedConfig {
	return SessionCompletedConfig{
		Timeout: 5 * time.Second,
	}
}

// SessionCompletedHandler записывает завершённые сегменты в журнал.
type SessionCompletedHandler struct {
	repo    history.Repository
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	logger  *slog.Logger
	config  SessionCompletedConfig
}

// NewSessionCompletedHandler создаёт обработчик. Nil breaker/retrier
// заменяются пресетами журнала.
func NewSessionCompletedHandler(
	repo history.Repository,
	breaker *circuitbreaker.CircuitBreaker,
	retrier *retry.Retrier,
	logger *slog.Logger,
	config SessionCompletedConfig,
) *SessionCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("handler", "on_session_completed")

	if breaker == nil {
		breaker = circuitbreaker.HistoryBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		})
	}
	if retrier == nil {
		retrier = retry.HistoryRetrier()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSessionCompletedConfig().Timeout
	}

	return &SessionCompletedHandler{
		repo:    repo,
		breaker: breaker,
		retrier: retrier,
		logger:  logger,
		config:  config,
	}
}

// Breaker возвращает circuit breaker журнала (для health).
func (h *SessionCompletedHandler) Breaker() *circuitbreaker.CircuitBreaker {
	return h.breaker
}

// Handle реализует shared.EventHandler.
func (h *SessionCompletedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventSessionCompleted {
		return nil
	}
	if h.config.Enabled != nil && !h.config.Enabled() {
		h.logger.Debug("history recording disabled, skipping")
		return nil
	}

	entry, err := StudyLogFromEvent(event)
	if err != nil {
		h.logger.Warn("cannot build study log from event",
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	err = h.breaker.Execute(ctx, func(ctx context.Context) error {
		return h.retrier.Do(ctx, func(ctx context.Context) error {
			if err := h.repo.Append(ctx, entry); err != nil {
				if shared.IsValidation(err) {
					return retry.Permanent(err)
				}
				return retry.Retryable(err)
			}
			return nil
		})
	})
	if err != nil {
		h.logger.Error("failed to record study log",
			"log_id", entry.ID,
			"session_type", entry.SessionType,
			"error", err,
		)
		return shared.WrapError("history", "Append", shared.ErrHistoryUnavailable, "record study log", err)
	}

	h.logger.Info("study log recorded",
		"log_id", entry.ID,
		"session_type", entry.SessionType,
		"duration_seconds", entry.DurationSeconds,
		"retroactive", entry.Retroactive,
	)
	return nil
}

// StudyLogFromEvent строит запись журнала из события завершения.
// Поддерживает как типизированное событие, так и событие, полученное
// от другого экземпляра (только Payload).
func StudyLogFromEvent(event shared.Event) (history.StudyLog, error) {
	var entry history.StudyLog

	if e, ok := event.(shared.SessionCompletedEvent); ok {
		entry = history.StudyLog{
			SessionType:     e.SessionType,
			DurationSeconds: e.TotalDurationSeconds,
			CourseID:        e.CourseID,
			CourseName:      e.CourseName,
			EndedAt:         e.WallClockEndTime.UTC(),
			Retroactive:     e.Retroactive,
		}
	} else {
		p := event.Payload()
		entry.SessionType, _ = p["session_type"].(string)
		entry.CourseID, _ = p["course_id"].(string)
		entry.CourseName, _ = p["course_name"].(string)
		entry.Retroactive, _ = p["retroactive"].(bool)

		switch v := p["total_duration_seconds"].(type) {
		case int:
			entry.DurationSeconds = v
		case float64:
			entry.DurationSeconds = int(v)
		}

		if s, ok := p["wall_clock_end_time"].(string); ok {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return history.StudyLog{}, fmt.Errorf("parse wall_clock_end_time: %w", err)
			}
			entry.EndedAt = t.UTC()
		}
	}

	entry.ID = uuid.NewSHA1(logNamespace, []byte(fmt.Sprintf("%s|%s|%d",
		event.AggregateID(), entry.SessionType, entry.EndedAt.Unix()))).String()

	if err := entry.Validate(); err != nil {
		return history.StudyLog{}, err
	}
	return entry, nil
}
