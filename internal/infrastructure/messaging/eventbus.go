// Package messaging delivers timer domain events to their consumers.
// It provides an in-memory bus for a single process and a Redis pub/sub
// bus that mirrors events to other timer instances.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/study-timer/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilEvent is returned when publishing a nil event.
	ErrNilEvent = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode hands deliveries to a worker pool instead of running them
	// on the publisher's goroutine.
	AsyncMode bool

	// WorkerPoolSize is the number of delivery workers in async mode.
	WorkerPoolSize int

	Logger *slog.Logger

	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 4,
		EnableMetrics:  true,
	}
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// InMemoryEventBus is an in-process implementation of shared.EventBus.
//
// In async mode deliveries go to an unbounded FIFO queue served by a fixed
// set of workers. Publish only appends to the queue, so the timer engine can
// publish while holding its lock. Close stops intake and waits until the
// queue is drained; a completed segment is still written to history on a
// clean shutdown.
type InMemoryEventBus struct {
	logger  *slog.Logger
	metrics *EventBusMetrics
	async   bool

	subMu    sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler

	qMu    sync.Mutex
	qCond  *sync.Cond
	queue  []delivery
	closed bool

	workers sync.WaitGroup
}

// NewInMemoryEventBus creates a new in-memory event bus and starts its
// workers when async.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 4
	}

	b := &InMemoryEventBus{
		logger: config.Logger.With("component", "event_bus"),
		async:  config.AsyncMode,
		byType: make(map[shared.EventType][]shared.EventHandler),
	}
	b.qCond = sync.NewCond(&b.qMu)
	if config.EnableMetrics {
		b.metrics = NewEventBusMetrics()
	}

	if b.async {
		b.workers.Add(config.WorkerPoolSize)
		for i := 0; i < config.WorkerPoolSize; i++ {
			go b.worker()
		}
	}
	return b
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.wildcard = append(b.wildcard, handler)
	})
}

func (b *InMemoryEventBus) subscribe(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return ErrNilHandler
	}
	if b.isClosed() {
		return ErrEventBusClosed
	}

	b.subMu.Lock()
	add()
	b.subMu.Unlock()
	return nil
}

// Publish hands the event to every matching handler. Handler errors are
// logged and counted, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.subMu.RLock()
	typed := b.byType[event.EventType()]
	handlers := make([]shared.EventHandler, 0, len(typed)+len(b.wildcard))
	handlers = append(handlers, typed...)
	handlers = append(handlers, b.wildcard...)
	b.subMu.RUnlock()

	if !b.async {
		if b.isClosed() {
			return ErrEventBusClosed
		}
		b.recordPublish(event)
		for _, h := range handlers {
			b.run(delivery{event: event, handler: h})
		}
		return nil
	}

	b.qMu.Lock()
	if b.closed {
		b.qMu.Unlock()
		return ErrEventBusClosed
	}
	for _, h := range handlers {
		b.queue = append(b.queue, delivery{event: event, handler: h})
	}
	b.qMu.Unlock()
	b.qCond.Broadcast()

	b.recordPublish(event)
	return nil
}

func (b *InMemoryEventBus) worker() {
	defer b.workers.Done()

	for {
		b.qMu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.qCond.Wait()
		}
		if len(b.queue) == 0 {
			b.qMu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue[0] = delivery{}
		b.queue = b.queue[1:]
		b.qMu.Unlock()

		b.run(d)
	}
}

func (b *InMemoryEventBus) run(d delivery) {
	start := time.Now()
	err := invoke(d)
	if b.metrics != nil {
		b.metrics.RecordHandlerExecution(d.event.EventType(), time.Since(start), err == nil)
	}
	if err != nil {
		b.logger.Error("event handler failed", "event_type", d.event.EventType(), "error", err)
	}
}

func invoke(d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return d.handler(d.event)
}

func (b *InMemoryEventBus) recordPublish(event shared.Event) {
	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}
}

func (b *InMemoryEventBus) isClosed() bool {
	b.qMu.Lock()
	defer b.qMu.Unlock()
	return b.closed
}

// Pending returns the number of queued deliveries.
func (b *InMemoryEventBus) Pending() int {
	b.qMu.Lock()
	defer b.qMu.Unlock()
	return len(b.queue)
}

// Close stops accepting events and waits for queued deliveries to finish.
func (b *InMemoryEventBus) Close() error {
	b.qMu.Lock()
	if b.closed {
		b.qMu.Unlock()
		return nil
	}
	b.closed = true
	pending := len(b.queue)
	b.qMu.Unlock()
	b.qCond.Broadcast()

	b.workers.Wait()
	b.logger.Info("event bus closed", "drained", pending)
	return nil
}

// Metrics returns the current metrics (nil when disabled).
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}
