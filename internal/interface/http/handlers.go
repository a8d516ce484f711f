package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alem-hub/study-timer/config"
	"github.com/alem-hub/study-timer/internal/application/lifecycle"
	"github.com/alem-hub/study-timer/internal/domain/history"
	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/pkg/logger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "study-timer",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":   "/health",
			"timer":    "/api/v1/timer",
			"stream":   "/api/v1/timer/stream",
			"history":  "/api/v1/history",
			"features": "/api/v1/features",
		},
	}

	writeJSON(w, r, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.config.Version,
	})
}

// handleReady answers 200 while the timer can serve requests, even with a
// degraded backend.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleMetrics returns internal counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]interface{}{
		"uptime_seconds": int64(s.Uptime().Seconds()),
		"failures":       len(s.deps.Timer.Failures()),
	}
	if s.deps.Stream != nil {
		metrics["stream_clients"] = s.deps.Stream.ClientCount()
	}
	if s.deps.Metrics != nil {
		for name, value := range s.deps.Metrics() {
			metrics[name] = value
		}
	}
	writeJSON(w, r, http.StatusOK, metrics)
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetTimer returns the current timer view.
func (s *Server) handleGetTimer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Timer.Snapshot())
}

// StartRequest is the body of POST /api/v1/timer/start. All fields are
// optional: an empty type keeps the preselected one, zero seconds means the
// configured length.
type StartRequest struct {
	SessionType  string           `json:"session_type"`
	TotalSeconds int              `json:"total_seconds"`
	Course       *timer.CourseRef `json:"course,omitempty"`
}

// handleStart starts a session.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	var t timer.SessionType
	if req.SessionType != "" {
		parsed, err := timer.ParseSessionType(req.SessionType)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_session_type", err.Error())
			return
		}
		t = parsed
	}

	err := s.deps.Timer.Start(r.Context(), t, req.TotalSeconds, req.Course)
	s.respondTransition(w, r, "Start", err)
}

// action adapts a no-argument timer transition to a handler.
func (s *Server) action(op string, fn func(ctx context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondTransition(w, r, op, fn(r.Context()))
	})
}

// respondTransition maps a transition result to a response carrying the
// view after the call.
func (s *Server) respondTransition(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		status, code := statusForError(err)
		logger.FromContext(r.Context()).Info("timer transition rejected",
			logger.Operation(op),
			logger.Err(err),
		)
		writeJSONError(w, status, code, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Timer.Snapshot())
}

// failureDTO is the JSON form of engine.Failure.
type failureDTO struct {
	Kind    string    `json:"kind"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// handleFailures lists recorded side-effect failures, newest first.
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	failures := s.deps.Timer.Failures()
	out := make([]failureDTO, 0, len(failures))
	for i := len(failures) - 1; i >= 0; i-- {
		f := failures[i]
		out = append(out, failureDTO{
			Kind:    string(f.Kind),
			Op:      f.Op,
			Message: f.Message(),
			At:      f.At.UTC(),
		})
	}
	writeJSONWithMeta(w, r, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// handleLifecycle forwards a background/foreground signal.
func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lifecycle == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_configured", "Lifecycle signals are not wired")
		return
	}

	sig, err := lifecycle.ParseSignal(r.PathValue("signal"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_signal", err.Error())
		return
	}

	if err := s.deps.Lifecycle.Handle(r.Context(), sig); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "lifecycle_failed", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Timer.Snapshot())
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// handleHistory returns study logs. With ?since=RFC3339 it returns every
// log since that moment, otherwise the latest ?limit= entries.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_configured", "History is not recorded")
		return
	}

	var (
		logs []history.StudyLog
		err  error
	)

	if since := r.URL.Query().Get("since"); since != "" {
		from, perr := time.Parse(time.RFC3339, since)
		if perr != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_since", "since must be RFC3339")
			return
		}
		logs, err = s.deps.History.Since(r.Context(), from)
	} else {
		limit := parseIntParam(r, "limit", defaultHistoryLimit)
		if limit < 1 || limit > maxHistoryLimit {
			writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200")
			return
		}
		logs, err = s.deps.History.Recent(r.Context(), limit)
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("history query failed", logger.Err(err))
		writeJSONError(w, http.StatusServiceUnavailable, "history_unavailable", "History backend unavailable")
		return
	}
	if logs == nil {
		logs = []history.StudyLog{}
	}

	writeJSONWithMeta(w, r, http.StatusOK, logs, &ResponseMeta{TotalCount: len(logs)})
}

// handleHistorySummary aggregates logs since ?since= (default: last 24h).
func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_configured", "History is not recorded")
		return
	}

	from := time.Now().Add(-24 * time.Hour)
	if since := r.URL.Query().Get("since"); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_since", "since must be RFC3339")
			return
		}
		from = parsed
	}

	logs, err := s.deps.History.Since(r.Context(), from)
	if err != nil {
		logger.FromContext(r.Context()).Error("history summary failed", logger.Err(err))
		writeJSONError(w, http.StatusServiceUnavailable, "history_unavailable", "History backend unavailable")
		return
	}

	var sum history.Summary
	for _, l := range logs {
		sum.Add(l)
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"since":   from.UTC(),
		"summary": sum,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURES
// ══════════════════════════════════════════════════════════════════════════════

// handleListFeatures lists feature flags.
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features == nil {
		writeJSON(w, r, http.StatusOK, []config.Feature{})
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Features.GetAllFeatures())
}

// featureRequest is the body of PUT /api/v1/features/{name}.
type featureRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetFeature toggles a feature at runtime.
func (s *Server) handleSetFeature(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_configured", "Feature flags are not wired")
		return
	}

	var req featureRequest
	if err := decodeOptionalJSON(r, &req); err != nil || req.Enabled == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", `Body must be {"enabled": true|false}`)
		return
	}

	name := r.PathValue("name")
	var err error
	if *req.Enabled {
		err = s.deps.Features.EnableFeature(name)
	} else {
		err = s.deps.Features.DisableFeature(name)
	}
	if errors.Is(err, config.ErrFeatureNotFound) {
		writeJSONError(w, http.StatusNotFound, "feature_not_found", "Unknown feature "+strconv.Quote(name))
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "feature_update_failed", err.Error())
		return
	}

	logger.FromContext(r.Context()).Info("feature toggled",
		"feature", name,
		"enabled", *req.Enabled,
	)
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    name,
		"enabled": s.deps.Features.IsEnabled(name),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// statusForError maps domain errors to HTTP status and error code.
func statusForError(err error) (int, string) {
	switch {
	case shared.IsInvalidTransition(err):
		return http.StatusConflict, "invalid_transition"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsUnavailable(err):
		return http.StatusServiceUnavailable, "backend_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeOptionalJSON decodes the body into v; an empty body leaves v as is.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultValue int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return parsed
}
