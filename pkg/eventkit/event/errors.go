package event

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error code. Codes survive message
// rewording; callers branch on codes, never on message text.
type Code string

// Error codes for the emitter, bus, and store.
const (
	CodeInvalidEventType      Code = "INVALID_EVENT_TYPE"
	CodeInvalidListener       Code = "INVALID_LISTENER"
	CodeMaxListenersExceeded  Code = "MAX_LISTENERS_EXCEEDED"
	CodeEmitterNotInitialized Code = "EMITTER_NOT_INITIALIZED"
	CodeInvalidEventID        Code = "INVALID_EVENT_ID"
	CodeInvalidEventTimestamp Code = "INVALID_EVENT_TIMESTAMP"
	CodeInvalidEventPriority  Code = "INVALID_EVENT_PRIORITY"
	CodeInvalidEventData      Code = "INVALID_EVENT_DATA"
	CodeProcessingTimeout     Code = "EVENT_PROCESSING_TIMEOUT"
	CodeResourceLimitExceeded Code = "RESOURCE_LIMIT_EXCEEDED"
	CodeStoreNotInitialized   Code = "STORE_NOT_INITIALIZED"
	CodeEventNotFound         Code = "EVENT_NOT_FOUND"
	CodeConfigurationError    Code = "CONFIGURATION_ERROR"
)

// Error is the error type for all caller-visible failures in this
// package. Validation errors are returned synchronously; processing
// errors are captured on the ProcessedEvent instead.
type Error struct {
	Code    Code   // stable code, see constants above
	Message string // human-readable description
	Err     error  // wrapped cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two Errors by code, so errors.Is works against a bare
// &Error{Code: ...} target.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewError creates an Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error wrapping an underlying cause.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode reports whether err (or anything it wraps) carries the code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
