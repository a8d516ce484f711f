package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	domain "github.com/alem-hub/study-timer/internal/domain/notification"
	"github.com/alem-hub/study-timer/pkg/timeutil"
)

// ErrPlatformClosed is returned when scheduling on a closed platform.
var ErrPlatformClosed = errors.New("notification: platform closed")

// LocalPlatform is an in-process domain.Platform backed by time.AfterFunc.
// Fired reminders are handed to a Deliverer (log, websocket hub, ...).
type LocalPlatform struct {
	clock     timeutil.Clock
	deliverer domain.Deliverer
	logger    *slog.Logger

	permission atomic.Bool
	delivered  atomic.Int64

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewLocalPlatform creates a local platform.
func NewLocalPlatform(clock timeutil.Clock, deliverer domain.Deliverer, permissionGranted bool, logger *slog.Logger) *LocalPlatform {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &LocalPlatform{
		clock:     clock,
		deliverer: deliverer,
		logger:    logger.With("component", "local_platform"),
		timers:    make(map[string]*time.Timer),
	}
	p.permission.Store(permissionGranted)
	return p
}

// PermissionGranted reports the current permission.
func (p *LocalPlatform) PermissionGranted(context.Context) bool {
	return p.permission.Load()
}

// SetPermission grants or revokes permission. Revoking does not cancel
// reminders that are already scheduled.
func (p *LocalPlatform) SetPermission(granted bool) {
	p.permission.Store(granted)
}

// Schedule arms a timer that delivers r at r.FireAt.
func (p *LocalPlatform) Schedule(_ context.Context, r domain.Reminder) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrPlatformClosed
	}

	delay := r.FireAt.Sub(p.clock.Now())
	if delay < 0 {
		delay = 0
	}

	id := r.ID
	p.timers[id] = time.AfterFunc(delay, func() {
		p.fire(id, r)
	})
	return id, nil
}

// Cancel stops the timer for id.
func (p *LocalPlatform) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[id]; ok {
		t.Stop()
		delete(p.timers, id)
	}
	return nil
}

// Armed returns the number of reminders that have not fired or been cancelled.
func (p *LocalPlatform) Armed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Delivered returns the number of reminders handed to the deliverer.
func (p *LocalPlatform) Delivered() int64 {
	return p.delivered.Load()
}

// Close stops all timers.
func (p *LocalPlatform) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.closed = true
}

func (p *LocalPlatform) fire(id string, r domain.Reminder) {
	p.mu.Lock()
	_, live := p.timers[id]
	delete(p.timers, id)
	p.mu.Unlock()

	if !live {
		return
	}
	if !p.permission.Load() {
		p.logger.Info("reminder suppressed, permission revoked", "id", id, "kind", r.Kind.String())
		return
	}

	p.delivered.Add(1)
	if p.deliverer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deliverer.Deliver(ctx, r); err != nil {
		p.logger.Warn("reminder delivery failed", "id", id, "kind", r.Kind.String(), "error", err)
	}
}

// LogDeliverer writes fired reminders to the logger.
func LogDeliverer(logger *slog.Logger) domain.Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return domain.DelivererFunc(func(_ context.Context, r domain.Reminder) error {
		logger.Info("reminder",
			"kind", r.Kind.String(),
			"session_type", r.SessionType,
			"title", r.Title,
			"body", r.Body,
		)
		return nil
	})
}

// FanOut delivers to every deliverer and returns the first error.
func FanOut(deliverers ...domain.Deliverer) domain.Deliverer {
	return domain.DelivererFunc(func(ctx context.Context, r domain.Reminder) error {
		var first error
		for _, d := range deliverers {
			if d == nil {
				continue
			}
			if err := d.Deliver(ctx, r); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
