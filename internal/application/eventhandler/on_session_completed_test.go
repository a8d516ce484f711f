package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-timer/internal/domain/history"
	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
	"github.com/alem-hub/study-timer/pkg/retry"
)

var endedAt = time.Date(2024, 5, 6, 9, 25, 0, 0, time.UTC)

func completedEvent() shared.SessionCompletedEvent {
	return shared.NewSessionCompletedEvent("engine-1", "focus", 1500, "c-1", "Algebra", endedAt)
}

// payloadEvent mimics an event received from another instance.
type payloadEvent struct {
	shared.BaseEvent
	payload map[string]interface{}
}

func (e payloadEvent) Payload() map[string]interface{} { return e.payload }

type flakyRepo struct {
	mu    sync.Mutex
	fails int
	calls int
	inner history.Repository
}

func (r *flakyRepo) Append(ctx context.Context, log history.StudyLog) error {
	r.mu.Lock()
	r.calls++
	fail := r.fails > 0
	if fail {
		r.fails--
	}
	r.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return r.inner.Append(ctx, log)
}

func (r *flakyRepo) Recent(ctx context.Context, limit int) ([]history.StudyLog, error) {
	return r.inner.Recent(ctx, limit)
}

func (r *flakyRepo) Since(ctx context.Context, from time.Time) ([]history.StudyLog, error) {
	return r.inner.Since(ctx, from)
}

func fastRetrier(attempts int) *retry.Retrier {
	return retry.New(retry.WithMaxAttempts(attempts), retry.WithInitialDelay(time.Millisecond), retry.WithJitter(0))
}

func TestSessionCompletedHandler_Records(t *testing.T) {
	repo := memory.NewHistoryRepository()
	h := NewSessionCompletedHandler(repo, nil, fastRetrier(1), nil, DefaultSessionCompletedConfig())

	require.NoError(t, h.Handle(completedEvent()))

	logs, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "focus", logs[0].SessionType)
	assert.Equal(t, 1500, logs[0].DurationSeconds)
	assert.Equal(t, "c-1", logs[0].CourseID)
	assert.Equal(t, "Algebra", logs[0].CourseName)
	assert.True(t, logs[0].EndedAt.Equal(endedAt))
	assert.Equal(t, "session-history", h.Breaker().Name())
}

func TestSessionCompletedHandler_IgnoresOtherEvents(t *testing.T) {
	repo := &flakyRepo{inner: memory.NewHistoryRepository()}
	h := NewSessionCompletedHandler(repo, nil, nil, nil, DefaultSessionCompletedConfig())

	ev := shared.NewSessionTransitionEvent(shared.EventSessionPaused, "engine-1", "running", "paused", "focus", 10, endedAt)
	require.NoError(t, h.Handle(ev))
	assert.Equal(t, 0, repo.calls)
}

func TestSessionCompletedHandler_Disabled(t *testing.T) {
	repo := &flakyRepo{inner: memory.NewHistoryRepository()}
	cfg := DefaultSessionCompletedConfig()
	cfg.Enabled = func() bool { return false }
	h := NewSessionCompletedHandler(repo, nil, nil, nil, cfg)

	require.NoError(t, h.Handle(completedEvent()))
	assert.Equal(t, 0, repo.calls)
}

func TestSessionCompletedHandler_RetriesTransientFailures(t *testing.T) {
	repo := &flakyRepo{fails: 2, inner: memory.NewHistoryRepository()}
	h := NewSessionCompletedHandler(repo, nil, fastRetrier(3), nil, DefaultSessionCompletedConfig())

	require.NoError(t, h.Handle(completedEvent()))
	assert.Equal(t, 3, repo.calls)
}

func TestSessionCompletedHandler_BreakerOpens(t *testing.T) {
	repo := &flakyRepo{fails: 100, inner: memory.NewHistoryRepository()}
	breaker := circuitbreaker.New("history", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithTimeout(time.Hour))
	h := NewSessionCompletedHandler(repo, breaker, fastRetrier(1), nil, DefaultSessionCompletedConfig())

	for i := 0; i < 2; i++ {
		err := h.Handle(completedEvent())
		assert.ErrorIs(t, err, shared.ErrHistoryUnavailable)
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	calls := repo.calls
	err := h.Handle(completedEvent())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, calls, repo.calls)
}

func TestSessionCompletedHandler_DeduplicatesRemoteCopy(t *testing.T) {
	repo := memory.NewHistoryRepository()
	h := NewSessionCompletedHandler(repo, nil, fastRetrier(1), nil, DefaultSessionCompletedConfig())

	local := completedEvent()
	remote := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionCompleted, "engine-1", endedAt),
		payload: map[string]interface{}{
			"session_type":           "focus",
			"total_duration_seconds": float64(1500),
			"course_id":              "c-1",
			"course_name":            "Algebra",
			"wall_clock_end_time":    endedAt.Format(time.RFC3339),
			"retroactive":            false,
		},
	}

	require.NoError(t, h.Handle(local))
	require.NoError(t, h.Handle(remote))

	logs, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestStudyLogFromEvent(t *testing.T) {
	entry, err := StudyLogFromEvent(completedEvent().AsRetroactive())
	require.NoError(t, err)
	assert.True(t, entry.Retroactive)
	assert.NotEmpty(t, entry.ID)

	again, err := StudyLogFromEvent(completedEvent())
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID, "id depends on engine, type and end time")

	bad := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionCompleted, "engine-1", endedAt),
		payload:   map[string]interface{}{"session_type": "focus", "wall_clock_end_time": "yesterday"},
	}
	_, err = StudyLogFromEvent(bad)
	assert.Error(t, err)

	empty := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionCompleted, "engine-1", endedAt),
		payload:   map[string]interface{}{"session_type": "focus"},
	}
	_, err = StudyLogFromEvent(empty)
	assert.True(t, shared.IsValidation(err))
}
