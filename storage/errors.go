package storage

import (
	"errors"
	"fmt"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
	// ErrInvariant marks a programming or data corruption bug. Callers must
	// not retry it.
	ErrInvariant ErrorType = "invariant"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same type, so errors.Is(err,
// &Error{Type: ErrNotFound}) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type && t.Message == ""
}

// NotFound builds a not-found error
func NotFound(format string, args ...any) *Error {
	return &Error{Type: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists builds a conflict error
func AlreadyExists(format string, args ...any) *Error {
	return &Error{Type: ErrAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput wraps a validation failure
func InvalidInput(err error, format string, args ...any) *Error {
	return &Error{Type: ErrInvalidInput, Message: fmt.Sprintf(format, args...), Err: err}
}

// Invariant wraps an invariant violation
func Invariant(err error, format string, args ...any) *Error {
	return &Error{Type: ErrInvariant, Message: fmt.Sprintf(format, args...), Err: err}
}

// HasType reports whether any storage error of type t is in err's chain
func HasType(err error, t ErrorType) bool {
	return errors.Is(err, &Error{Type: t})
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return HasType(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is a conflict error
func IsAlreadyExists(err error) bool {
	return HasType(err, ErrAlreadyExists)
}

// IsInvariant reports whether err is an invariant violation
func IsInvariant(err error) bool {
	return HasType(err, ErrInvariant)
}
