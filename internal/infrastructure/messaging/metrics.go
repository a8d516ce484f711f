package messaging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/study-timer/internal/domain/shared"
)

// EventBusMetrics counts bus traffic. Handler and remote counters are
// atomics; only the per-type publish map takes the lock.
type EventBusMetrics struct {
	mu        sync.Mutex
	published map[shared.EventType]int64

	handled     atomic.Int64
	failed      atomic.Int64
	handlerTime atomic.Int64 // nanoseconds

	remoteOK  atomic.Int64
	remoteBad atomic.Int64
}

func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{published: make(map[shared.EventType]int64)}
}

// RecordPublish counts one published event.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	m.published[eventType]++
	m.mu.Unlock()
}

// RecordHandlerExecution counts one handler call and its duration.
func (m *EventBusMetrics) RecordHandlerExecution(_ shared.EventType, took time.Duration, success bool) {
	m.handled.Add(1)
	m.handlerTime.Add(int64(took))
	if !success {
		m.failed.Add(1)
	}
}

// RecordRemote counts a message received from another instance; ok is false
// when it could not be decoded.
func (m *EventBusMetrics) RecordRemote(ok bool) {
	if ok {
		m.remoteOK.Add(1)
		return
	}
	m.remoteBad.Add(1)
}

// Snapshot returns the counters as of now. The success rate is 1 before any
// handler ran.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	snap := EventBusMetricsSnapshot{
		TotalHandlerExecs:  m.handled.Load(),
		HandlerFailures:    m.failed.Load(),
		HandlerSuccessRate: 1,
		RemoteReceived:     m.remoteOK.Load(),
		RemoteFailures:     m.remoteBad.Load(),
	}
	if n := snap.TotalHandlerExecs; n > 0 {
		snap.AverageHandlerDuration = time.Duration(m.handlerTime.Load() / n)
		snap.HandlerSuccessRate = float64(n-snap.HandlerFailures) / float64(n)
	}

	m.mu.Lock()
	for t, n := range m.published {
		snap.TotalPublished += n
		if t == shared.EventSessionCompleted {
			snap.Completions = n
		}
	}
	m.mu.Unlock()

	return snap
}

// EventBusMetricsSnapshot is served under "event_bus" in /metrics.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64         `json:"total_published"`
	Completions            int64         `json:"completions"`
	TotalHandlerExecs      int64         `json:"total_handler_execs"`
	HandlerFailures        int64         `json:"handler_failures"`
	HandlerSuccessRate     float64       `json:"handler_success_rate"`
	AverageHandlerDuration time.Duration `json:"average_handler_duration"`
	RemoteReceived         int64         `json:"remote_received"`
	RemoteFailures         int64         `json:"remote_failures"`
}
