// Package apperrors implements the error taxonomy of spec.md §7 as a
// single classified-error type, ported from the teacher's
// pkg/errors.ClassifiedError idiom rather than bare errors.New calls
// scattered through every component.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Class is one of the error kinds named in spec.md §7.
type Class int

const (
	ClassUnknown Class = iota
	ClassInvalidInput
	ClassNotFound
	ClassConflict
	ClassTransientThrottled
	ClassTransientTransport
	ClassPermanentAuthorization
	ClassPermanentParse
	ClassCircuitOpen
	ClassResourceExhausted
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassInvalidInput:
		return "InvalidInput"
	case ClassNotFound:
		return "NotFound"
	case ClassConflict:
		return "Conflict"
	case ClassTransientThrottled:
		return "Transient.Throttled"
	case ClassTransientTransport:
		return "Transient.Transport"
	case ClassPermanentAuthorization:
		return "Permanent.Authorization"
	case ClassPermanentParse:
		return "Permanent.Parse"
	case ClassCircuitOpen:
		return "CircuitOpen"
	case ClassResourceExhausted:
		return "ResourceExhausted"
	case ClassInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the class is one the caller should retry
// without operator intervention.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransientThrottled, ClassTransientTransport, ClassResourceExhausted:
		return true
	default:
		return false
	}
}

// CountsTowardBreaker reports whether a failure of this class should
// increment a circuit breaker's consecutive-failure count. Throttling
// responses never do (spec.md §4.C.4).
func (c Class) CountsTowardBreaker() bool {
	switch c {
	case ClassTransientTransport, ClassPermanentAuthorization, ClassInternal:
		return true
	default:
		return false
	}
}

// Error is a classified application error carrying enough context to
// drive retry, circuit-breaker and logging decisions uniformly.
type Error struct {
	Class     Class
	Operation string
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Class, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified error stamped with the current time.
func New(class Class, operation, message string, cause error) *Error {
	return &Error{Class: class, Operation: operation, Message: message, Cause: cause, Timestamp: time.Now()}
}

// As extracts a *Error from err, following the standard unwrap chain.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ClassOf returns the class of err, or ClassUnknown if err is not a
// classified error.
func ClassOf(err error) Class {
	if ce, ok := As(err); ok {
		return ce.Class
	}
	return ClassUnknown
}
