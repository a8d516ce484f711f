// Package lifecycle переводит сигналы жизненного цикла процесса
// (ушёл в фон / вернулся) в вызовы движка таймера.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// SIGNALS
// ══════════════════════════════════════════════════════════════════════════════

// Signal — сигнал жизненного цикла.
type Signal string

const (
	// SignalBackground - процесс уходит в фон и может быть приостановлен.
	SignalBackground Signal = "background"

	// SignalForeground - процесс снова активен.
	SignalForeground Signal = "foreground"
)

// ParseSignal разбирает строковое представление сигнала.
func ParseSignal(s string) (Signal, error) {
	switch Signal(strings.ToLower(strings.TrimSpace(s))) {
	case SignalBackground:
		return SignalBackground, nil
	case SignalForeground:
		return SignalForeground, nil
	default:
		return "", fmt.Errorf("lifecycle: unknown signal %q", s)
	}
}

// String возвращает строковое представление сигнала.
func (s Signal) String() string {
	return string(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// Timer — операции движка, нужные координатору.
type Timer interface {
	Background(ctx context.Context)
	Foreground(ctx context.Context)
}

// Coordinator подписан на поток сигналов и вызывает движок.
// Пропущенные тики не досчитываются: движок всегда пересчитывает остаток
// по настенным часам.
type Coordinator struct {
	timer  Timer
	logger *slog.Logger
}

// NewCoordinator создаёт координатор.
func NewCoordinator(timer Timer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		timer:  timer,
		logger: logger.With("component", "lifecycle"),
	}
}

// Handle применяет один сигнал.
func (c *Coordinator) Handle(ctx context.Context, sig Signal) error {
	switch sig {
	case SignalBackground:
		c.logger.Info("entering background")
		c.timer.Background(ctx)
	case SignalForeground:
		c.logger.Info("returning to foreground")
		c.timer.Foreground(ctx)
	default:
		return fmt.Errorf("lifecycle: unknown signal %q", sig)
	}
	return nil
}

// Run обрабатывает сигналы до закрытия канала или отмены ctx.
func (c *Coordinator) Run(ctx context.Context, signals <-chan Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if err := c.Handle(ctx, sig); err != nil {
				c.logger.Warn("ignoring signal", "error", err)
			}
		}
	}
}
