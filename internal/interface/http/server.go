// Package http implements the control API of the timer daemon: REST
// endpoints for timer actions and lifecycle signals, the study log, health,
// and a websocket stream of timer state.
package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-timer/config"
	"github.com/alem-hub/study-timer/internal/application/engine"
	"github.com/alem-hub/study-timer/internal/application/lifecycle"
	"github.com/alem-hub/study-timer/internal/domain/history"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/internal/interface/http/handlers"
	"github.com/alem-hub/study-timer/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr - address to bind (default: "127.0.0.1:8765").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of request bodies.
	MaxBodyBytes int64

	// AllowedOrigins - allowed origins for CORS and websocket upgrades.
	AllowedOrigins []string

	// RateLimit - requests per second per client IP (0 = disabled).
	RateLimit      float64
	RateLimitBurst int

	// APIKeyHeader - header name for API key authentication.
	APIKeyHeader string

	// APIKeys - valid keys for mutating endpoints and the stream.
	APIKeys []string

	// Version is reported by / and /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8765",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
		MaxBodyBytes:   1 << 14,
		AllowedOrigins: []string{"*"},
		RateLimit:      20,
		RateLimitBurst: 40,
		APIKeyHeader:   "X-API-Key",
		Version:        "0.1.0",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// TimerService is the engine surface the API drives.
type TimerService interface {
	Start(ctx context.Context, t timer.SessionType, totalSeconds int, course *timer.CourseRef) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot() timer.View
	Failures() []engine.Failure
}

// LifecycleHandler routes foreground/background signals.
type LifecycleHandler interface {
	Handle(ctx context.Context, sig lifecycle.Signal) error
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	Timer     TimerService
	Lifecycle LifecycleHandler

	// History is optional; without it /api/v1/history answers 501.
	History history.Repository

	// Stream is optional; without it /api/v1/timer/stream answers 501.
	Stream *StreamHub

	// Features is optional; without it the stream is always on.
	Features *config.FeatureFlags

	HealthChecker handlers.HealthChecker

	// Metrics returns named metric snapshots for /metrics.
	Metrics func() map[string]interface{}

	// Prometheus is optional; when set it is mounted at /metrics/prometheus.
	Prometheus http.Handler

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	logger     *slog.Logger

	auth        *handlers.APIKeyAuth
	rateLimiter *handlers.RateLimiter

	mu        sync.RWMutex
	listener  net.Listener
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger.With("component", "http"),
		auth:   handlers.NewAPIKeyAuth(config.APIKeyHeader, config.APIKeys),
	}

	if config.RateLimit > 0 {
		s.rateLimiter = handlers.NewRateLimiter(config.RateLimit, config.RateLimitBurst, 10*time.Minute)
	}

	s.setupRoutes()
	s.handler = s.buildMiddlewareChain(s.router)

	s.httpServer = &http.Server{
		Addr:           config.Addr,
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the fully wrapped handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	protect := s.auth.Middleware

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /{$}", s.handleRoot)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)
	s.router.HandleFunc("GET /metrics", s.handleMetrics)
	if s.deps.Prometheus != nil {
		s.router.Handle("GET /metrics/prometheus", s.deps.Prometheus)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Timer
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /api/v1/timer", s.handleGetTimer)
	s.router.Handle("POST /api/v1/timer/start", protect(http.HandlerFunc(s.handleStart)))
	s.router.Handle("POST /api/v1/timer/pause", protect(s.action("Pause", s.deps.Timer.Pause)))
	s.router.Handle("POST /api/v1/timer/resume", protect(s.action("Resume", s.deps.Timer.Resume)))
	s.router.Handle("POST /api/v1/timer/stop", protect(s.action("Stop", s.deps.Timer.Stop)))
	s.router.Handle("POST /api/v1/timer/reset", protect(s.action("Reset", s.deps.Timer.Reset)))
	s.router.HandleFunc("GET /api/v1/timer/failures", s.handleFailures)
	s.router.Handle("GET /api/v1/timer/stream", protect(http.HandlerFunc(s.handleStream)))

	// ─────────────────────────────────────────────────────────────────────────
	// Lifecycle, history, features
	// ─────────────────────────────────────────────────────────────────────────
	s.router.Handle("POST /api/v1/lifecycle/{signal}", protect(http.HandlerFunc(s.handleLifecycle)))
	s.router.HandleFunc("GET /api/v1/history", s.handleHistory)
	s.router.HandleFunc("GET /api/v1/history/summary", s.handleHistorySummary)
	s.router.HandleFunc("GET /api/v1/features", s.handleListFeatures)
	s.router.Handle("PUT /api/v1/features/{name}", protect(http.HandlerFunc(s.handleSetFeature)))
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the router with all middleware. The first
// middleware in the list is the outermost.
func (s *Server) buildMiddlewareChain(h http.Handler) http.Handler {
	chain := []handlers.MiddlewareFunc{
		s.recoveryMiddleware,
		s.observeMiddleware,
		handlers.SecurityHeadersMiddleware,
		handlers.NoCacheMiddleware,
		s.corsMiddleware,
	}
	if s.rateLimiter != nil {
		chain = append(chain, s.rateLimiter.Middleware(getClientIP))
	}
	chain = append(chain, handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))

	return handlers.ChainHandler(h, chain...)
}

// observeMiddleware tags the request with an ID and a request-scoped logger,
// then writes one access log line. Reads are logged at debug, writes at
// info and server errors at error.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		reqLog := logger.WithRequestID(s.logger, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		ctx = logger.WithContext(ctx, reqLog)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		began := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		level := slog.LevelDebug
		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case r.Method != http.MethodGet:
			level = slog.LevelInfo
		}
		reqLog.LogAttrs(ctx, level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Status(rec.status),
			logger.Latency(time.Since(began)),
			slog.String("ip", getClientIP(r)),
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				s.logger.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Listen binds the configured address. Bind errors surface here, before
// the daemon reports itself as running.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("server already listening")
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Serve accepts connections on the bound listener until Shutdown. The
// returned channel yields at most one error and is then closed.
func (s *Server) Serve() <-chan error {
	errCh := make(chan error, 1)

	s.mu.Lock()
	ln := s.listener
	s.startedAt = time.Now()
	s.mu.Unlock()

	if ln == nil {
		errCh <- errors.New("server is not listening")
		close(errCh)
		return errCh
	}

	s.logger.Info("HTTP server listening", "address", ln.Addr().String())
	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns time since Serve was called.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// SweepRateLimiter drops idle rate-limit buckets. Called by a scheduler job.
func (s *Server) SweepRateLimiter(context.Context) error {
	if s.rateLimiter == nil {
		return nil
	}
	if n := s.rateLimiter.Sweep(); n > 0 {
		s.logger.Debug("rate limiter swept", "removed", n)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES AND FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// statusRecorder remembers the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
