// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened to the study session.
const (
	// Session lifecycle events
	EventSessionStarted   EventType = "session.started"
	EventSessionPaused    EventType = "session.paused"
	EventSessionResumed   EventType = "session.resumed"
	EventSessionStopped   EventType = "session.stopped"
	EventSessionReset     EventType = "session.reset"
	EventSessionCompleted EventType = "session.completed"

	// Lifecycle coordinator events
	EventSessionRecovered EventType = "session.recovered"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionCompletedEvent is emitted exactly once when a segment runs to zero.
// It is the reward collaborator's only input.
type SessionCompletedEvent struct {
	BaseEvent
	SessionType          string    `json:"session_type"`
	TotalDurationSeconds int       `json:"total_duration_seconds"`
	CourseID             string    `json:"course_id,omitempty"`
	CourseName           string    `json:"course_name,omitempty"`
	WallClockEndTime     time.Time `json:"wall_clock_end_time"`
	Retroactive          bool      `json:"retroactive"`
}

// Payload implements Event interface.
func (e SessionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_type":           e.SessionType,
		"total_duration_seconds": e.TotalDurationSeconds,
		"course_id":              e.CourseID,
		"course_name":            e.CourseName,
		"wall_clock_end_time":    e.WallClockEndTime.Format(time.RFC3339),
		"retroactive":            e.Retroactive,
	}
}

// NewSessionCompletedEvent creates a new SessionCompletedEvent.
func NewSessionCompletedEvent(engineID, sessionType string, total int, courseID, courseName string, endedAt time.Time) SessionCompletedEvent {
	return SessionCompletedEvent{
		BaseEvent:            NewBaseEvent(EventSessionCompleted, engineID, endedAt),
		SessionType:          sessionType,
		TotalDurationSeconds: total,
		CourseID:             courseID,
		CourseName:           courseName,
		WallClockEndTime:     endedAt,
	}
}

// AsRetroactive marks the completion as detected on foreground recovery.
func (e SessionCompletedEvent) AsRetroactive() SessionCompletedEvent {
	e.Retroactive = true
	return e
}

// SessionTransitionEvent is emitted for every accepted transition other than
// completion.
type SessionTransitionEvent struct {
	BaseEvent
	From        string `json:"from"`
	To          string `json:"to"`
	SessionType string `json:"session_type"`
	Remaining   int    `json:"remaining_seconds"`
}

// Payload implements Event interface.
func (e SessionTransitionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from":              e.From,
		"to":                e.To,
		"session_type":      e.SessionType,
		"remaining_seconds": e.Remaining,
	}
}

// NewSessionTransitionEvent creates a new SessionTransitionEvent.
func NewSessionTransitionEvent(eventType EventType, engineID, from, to, sessionType string, remaining int, at time.Time) SessionTransitionEvent {
	return SessionTransitionEvent{
		BaseEvent:   NewBaseEvent(eventType, engineID, at),
		From:        from,
		To:          to,
		SessionType: sessionType,
		Remaining:   remaining,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
