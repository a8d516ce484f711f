// Package platform adapts operating-system facilities to the timer's
// application ports.
package platform

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/alem-hub/study-timer/internal/application/lifecycle"
)

// SignalSource turns OS signals into lifecycle signals. On unix SIGUSR1
// means "going to background" and SIGUSR2 means "back in foreground", so a
// desktop session manager or a shell script can drive the daemon.
type SignalSource struct {
	mapping map[os.Signal]lifecycle.Signal
	logger  *slog.Logger
}

// NewSignalSource creates a source with the platform's default mapping.
func NewSignalSource(logger *slog.Logger) *SignalSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalSource{
		mapping: lifecycleSignals(),
		logger:  logger.With("component", "signal_source"),
	}
}

// Translate maps an OS signal to a lifecycle signal.
func (s *SignalSource) Translate(sig os.Signal) (lifecycle.Signal, bool) {
	ls, ok := s.mapping[sig]
	return ls, ok
}

// Start subscribes to the mapped OS signals. The returned channel is closed
// when ctx is cancelled.
func (s *SignalSource) Start(ctx context.Context) <-chan lifecycle.Signal {
	out := make(chan lifecycle.Signal, 4)
	if len(s.mapping) == 0 {
		s.logger.Info("lifecycle signals not supported on this platform")
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out
	}

	sigCh := make(chan os.Signal, 4)
	watched := make([]os.Signal, 0, len(s.mapping))
	for sig := range s.mapping {
		watched = append(watched, sig)
	}
	signal.Notify(sigCh, watched...)

	go func() {
		defer close(out)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				ls, ok := s.Translate(sig)
				if !ok {
					continue
				}
				s.logger.Debug("lifecycle signal received", "os_signal", sig.String(), "signal", ls.String())
				select {
				case out <- ls:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
