// Package shared contains the error kinds and domain events used across the
// timer's domain packages. It imports nothing outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is or the Is* helpers below.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrValueOutOfRange  = errors.New("value out of range")
	ErrInvalidFormat    = errors.New("invalid format")
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrUnavailable      = errors.New("backend unavailable")
	ErrPermissionDenied = errors.New("permission denied")
)

// DomainError carries the failing operation and an error kind.
type DomainError struct {
	Domain  string // timer, persistence, notification, history
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap exposes the cause, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches both the kind and anything in the cause chain.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError creates a sentinel-style domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError attaches domain context to err. The result matches kind, err and,
// when kind is itself a *DomainError, everything kind matches.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Таймер
var (
	ErrInvalidTransition = NewDomainError("timer", "Transition", ErrStateTransition, "operation not allowed in current state")
	ErrInvalidDuration   = NewDomainError("timer", "Validate", ErrValueOutOfRange, "duration must be positive")
	ErrInvalidSession    = NewDomainError("timer", "Validate", ErrInvalidState, "session violates remaining/total bounds")
	ErrUnknownType       = NewDomainError("timer", "Validate", ErrInvalidInput, "unknown session type")
)

// Хранилище снимка
var (
	ErrPersistenceFailure = NewDomainError("persistence", "Store", ErrUnavailable, "snapshot store unavailable")
	ErrCorruptSnapshot    = NewDomainError("persistence", "Load", ErrInvalidFormat, "stored snapshot is corrupt")
)

// Напоминания
var (
	ErrNotificationFailure    = NewDomainError("notification", "Schedule", ErrUnavailable, "failed to schedule notification")
	ErrNotificationPermission = NewDomainError("notification", "Schedule", ErrPermissionDenied, "notification permission not granted")
)

// Журнал
var ErrHistoryUnavailable = NewDomainError("history", "Record", ErrUnavailable, "session history backend unavailable")

// IsInvalidTransition reports a transition rejected by the state machine.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrStateTransition)
}

// IsValidation reports bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrValueOutOfRange)
}

// IsCorrupt reports an unreadable snapshot.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrInvalidFormat)
}

// IsUnavailable reports a failing storage, history or notification backend.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
