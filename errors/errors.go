// Package errors defines the module's error taxonomy. Every failure
// surfaced to a caller or persisted on a derivative record is an
// AppError whose Type says which stage failed; errors.Is matches on
// the type, so callers branch on class without string inspection.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies where in the pipeline an error originated.
type ErrorType string

const (
	// ErrorTypeValidation: a raw option value failed to parse.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeSource: the source image could not be read or decoded.
	// Recorded as SOURCE_ERROR on the derivative record.
	ErrorTypeSource ErrorType = "source"
	// ErrorTypeBuild: decode succeeded but transform or encode failed.
	// Recorded as BUILD_ERROR on the derivative record.
	ErrorTypeBuild ErrorType = "build"

	// ErrorTypeStorage: the record store or blob store failed.
	ErrorTypeStorage  ErrorType = "storage"
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeConflict ErrorType = "conflict"

	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// AppError is a classified error with optional structured details and
// a wrapped cause.
type AppError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AppError) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return e.Message + ": " + e.Cause.Error()
	case e.Message != "":
		return e.Message
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return string(e.Type)
	}
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches two AppErrors by type, so
// errors.Is(err, &AppError{Type: ErrorTypeSource}) asks "did the
// source fail" regardless of the concrete failure.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Type == t.Type
	}
	return false
}

// WithDetail attaches one structured detail, returning the receiver
// for chaining.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithInnerError sets the wrapped cause.
func (e *AppError) WithInnerError(err error) *AppError {
	e.Cause = err
	return e
}

// New creates a classified error.
func New(errType ErrorType, message string) *AppError {
	return &AppError{Type: errType, Message: message}
}

// WrapWithType wraps a cause under a classified message.
func WrapWithType(err error, errType ErrorType, message string) *AppError {
	return &AppError{Type: errType, Message: message, Cause: err}
}

// FromError returns err as an AppError, classifying foreign errors as
// unknown. nil stays nil.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Type: ErrorTypeUnknown, Cause: err}
}

// NewValidation reports a malformed option value. The offending option
// key lands in the details so callers can say exactly which slot
// failed to parse.
func NewValidation(key string, value any, reason string) *AppError {
	return New(ErrorTypeValidation, fmt.Sprintf("invalid value for %s: %v", key, value)).
		WithDetail("key", key).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// NewSource reports an unreadable or undecodable source image.
func NewSource(name string, err error) *AppError {
	return WrapWithType(err, ErrorTypeSource, fmt.Sprintf("source image %s unreadable", name)).
		WithDetail("source", name)
}

// NewNotFound reports a missing resource by kind and id.
func NewNotFound(resource string, id any) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// IsValidation reports whether err is an option validation error.
func IsValidation(err error) bool {
	return FromError(err).Type == ErrorTypeValidation
}
