package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
)

func TestCollector_CountsEvents(t *testing.T) {
	c := New()
	at := time.Date(2024, 3, 1, 10, 25, 0, 0, time.UTC)

	require.NoError(t, c.HandleEvent(shared.NewSessionTransitionEvent(shared.EventSessionStarted, "e", "idle", "running", "focus", 1500, at)))
	require.NoError(t, c.HandleEvent(shared.NewSessionCompletedEvent("e", "focus", 1500, "", "", at)))
	require.NoError(t, c.HandleEvent(shared.NewSessionCompletedEvent("e", "focus", 1500, "", "", at).AsRetroactive()))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("session.started")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("session.completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completions.WithLabelValues("focus", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completions.WithLabelValues("focus", "false")))
	assert.Equal(t, 3000.0, testutil.ToFloat64(c.studiedSeconds.WithLabelValues("focus")))
	assert.Zero(t, testutil.ToFloat64(c.unknownEvents))
}

func TestCollector_ExposesGauges(t *testing.T) {
	c := New()
	view := timer.View{State: timer.StatePaused, RemainingSeconds: 1400}
	c.TrackTimer(func() timer.View { return view })
	c.TrackFailures([]string{"persistence"}, func(string) int64 { return 3 })

	cb := circuitbreaker.New("history", circuitbreaker.WithFailureThreshold(1))
	c.TrackBreaker(cb)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "study_timer_remaining_seconds 1400")
	assert.Contains(t, text, `study_timer_state{state="paused"} 1`)
	assert.Contains(t, text, `study_timer_state{state="running"} 0`)
	assert.Contains(t, text, `study_timer_side_effect_failures_total{kind="persistence"} 3`)
	assert.Contains(t, text, `study_timer_circuit_breaker_state{breaker="history"} 0`)
	assert.Contains(t, text, "go_goroutines")
}
