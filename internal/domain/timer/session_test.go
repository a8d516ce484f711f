package timer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-timer/internal/domain/shared"
)

func running(total, remaining int, checkpoint int64) Session {
	return Session{
		State:                 StateRunning,
		Type:                  SessionTypeFocus,
		TotalDurationSeconds:  total,
		RemainingAtCheckpoint: remaining,
		CheckpointTimestamp:   checkpoint,
	}
}

func TestComputeRemaining(t *testing.T) {
	const T int64 = 1000

	tests := []struct {
		name    string
		session Session
		now     int64
		want    int
	}{
		{"at checkpoint", running(1500, 1200, T), T, 1200},
		{"partially elapsed", running(1500, 1200, T), T + 200, 1000},
		{"exactly elapsed", running(1500, 1200, T), T + 1200, 0},
		{"over elapsed clamps to zero", running(1500, 1200, T), T + 1201, 0},
		{"clock moved backwards grows remaining", running(1500, 1200, T), T - 100, 1300},
		{"clock moved far backwards clamps to total", running(1500, 1200, T), T - 10000, 1500},
		{"paused ignores now", Session{State: StatePaused, Type: SessionTypeFocus, TotalDurationSeconds: 1500, RemainingAtCheckpoint: 1400, CheckpointTimestamp: T}, T + 9000, 1400},
		{"idle ignores now", NewIdleSession(SessionTypeBreak, 300), T + 9000, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeRemaining(tt.session, tt.now))
		})
	}
}

func TestSession_Checkpoint(t *testing.T) {
	s := running(1500, 1500, 1000)
	s.Checkpoint(1300)

	assert.Equal(t, 1200, s.RemainingAtCheckpoint)
	assert.Equal(t, int64(1300), s.CheckpointTimestamp)
}

func TestSession_Validate(t *testing.T) {
	assert.NoError(t, running(1500, 1500, 1).Validate())
	assert.NoError(t, running(1500, 0, 1).Validate())

	err := running(1500, 1501, 1).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidSession))

	err = running(1500, -1, 1).Validate()
	assert.Error(t, err)

	err = Session{State: "sleeping", Type: SessionTypeFocus, TotalDurationSeconds: 10}.Validate()
	assert.Error(t, err)

	err = Session{State: StateIdle, Type: "nap", TotalDurationSeconds: 10}.Validate()
	assert.True(t, errors.Is(err, shared.ErrUnknownType))

	err = Session{State: StateIdle, Type: SessionTypeFocus}.Validate()
	assert.True(t, errors.Is(err, shared.ErrInvalidDuration))
}

func TestSession_ValidateCheckpoint(t *testing.T) {
	err := running(1500, 1200, -5).Validate()
	assert.True(t, errors.Is(err, shared.ErrInvalidSession))

	const now int64 = 10_000
	assert.NoError(t, running(1500, 1200, now).ValidateAt(now))
	assert.NoError(t, running(1500, 1200, now+MaxCheckpointSkew).ValidateAt(now), "small skew is tolerated")

	err = running(1500, 1200, now+MaxCheckpointSkew+1).ValidateAt(now)
	assert.True(t, errors.Is(err, shared.ErrInvalidSession))

	paused := running(1500, 1200, now+86_400)
	paused.State = StatePaused
	assert.NoError(t, paused.ValidateAt(now), "paused sessions never read the checkpoint")
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := running(1500, 1500, 1)
	s.Course = &CourseRef{ID: "math-101", Name: "Calculus"}

	c := s.Clone()
	c.Course.Name = "changed"

	assert.Equal(t, "Calculus", s.Course.Name)
	assert.False(t, s.Equal(c))
}

func TestSessionType(t *testing.T) {
	assert.Equal(t, SessionTypeBreak, SessionTypeFocus.Opposite())
	assert.Equal(t, SessionTypeFocus, SessionTypeBreak.Opposite())

	got, err := ParseSessionType("break")
	require.NoError(t, err)
	assert.Equal(t, SessionTypeBreak, got)

	_, err = ParseSessionType("nap")
	assert.True(t, shared.IsValidation(err))
}

func TestDurations_For(t *testing.T) {
	d := Durations{Focus: 25 * time.Minute, Break: 5 * time.Minute}
	assert.Equal(t, 1500, d.For(SessionTypeFocus))
	assert.Equal(t, 300, d.For(SessionTypeBreak))
}

func TestNewView(t *testing.T) {
	s := running(1500, 1500, 1000)
	v := NewView(s, 1100)

	assert.Equal(t, StateRunning, v.State)
	assert.Equal(t, 1400, v.RemainingSeconds)
	assert.Equal(t, int64(1100), v.At)
}
