package core

import (
	"errors"
	"fmt"
)

// Error represents a classified failure from a store, gateway, or
// collaborator call.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConnectivity means a store or gateway was unreachable. Callers
	// degrade or retry once; the session itself stays up.
	ErrConnectivity ErrorType = "connectivity_error"
	// ErrNotFound means no matching application or record exists. Callers
	// proceed with defaults.
	ErrNotFound ErrorType = "not_found_error"
	// ErrTimeout means a bounded operation exceeded its budget. Callers
	// abandon the optional step and continue.
	ErrTimeout ErrorType = "timeout_error"
	// ErrValidation means malformed input: a bad room name, a bad frame,
	// or state in an unexpected shape.
	ErrValidation ErrorType = "validation_error"
	// ErrUnauthorized means the caller failed authentication.
	ErrUnauthorized ErrorType = "unauthorized_error"
	// ErrInternal is an unexpected failure inside this process.
	ErrInternal ErrorType = "internal_error"
)

// NewConnectivityError creates a connectivity error wrapping the transport
// failure.
func NewConnectivityError(message string, cause error) *Error {
	return &Error{
		Type:    ErrConnectivity,
		Message: message,
		Cause:   cause,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrTimeout,
		Message: message,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return &Error{
		Type:    ErrValidation,
		Message: message,
	}
}

// NewValidationErrorWithParam creates a validation error naming the
// offending field.
func NewValidationErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrValidation,
		Message: message,
		Param:   param,
	}
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *Error {
	return &Error{
		Type:    ErrUnauthorized,
		Message: message,
	}
}

// NewInternalError creates an internal error wrapping its cause.
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// IsRetryable returns true if the error class is transient.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrConnectivity, ErrTimeout:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// AsError extracts a *Error from err's chain, classifying unknown errors
// as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return NewInternalError(err.Error(), err)
}

// IsType reports whether err's chain contains an Error of the given type.
func IsType(err error, t ErrorType) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type == t
	}
	return false
}
