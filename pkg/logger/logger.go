// Package logger builds the daemon's slog logger and carries it through
// request contexts. It also holds the attribute helpers used for timer
// fields so log keys stay consistent across packages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format is the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseLevel parses a level string. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	Format    Format
	AddSource bool

	// Attrs are attached to every record (service name, version).
	Attrs []slog.Attr
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatText,
	}
}

// New creates a logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}
	if len(opts.Attrs) > 0 {
		handler = handler.WithAttrs(opts.Attrs)
	}

	return slog.New(handler)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext returns a context carrying l.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// WithRequestID returns l annotated with a request id.
func WithRequestID(l *slog.Logger, requestID string) *slog.Logger {
	return l.With(RequestID(requestID))
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTRIBUTES
// ══════════════════════════════════════════════════════════════════════════════

func RequestID(id string) slog.Attr     { return slog.String("request_id", id) }
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Operation(name string) slog.Attr   { return slog.String("operation", name) }
func SessionType(t string) slog.Attr    { return slog.String("session_type", t) }
func State(s string) slog.Attr          { return slog.String("state", s) }
func Remaining(seconds int) slog.Attr   { return slog.Int("remaining_seconds", seconds) }
func Course(id string) slog.Attr        { return slog.String("course_id", id) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }
func Status(code int) slog.Attr         { return slog.Int("status", code) }

// Err returns an error attribute; nil errors log as an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
