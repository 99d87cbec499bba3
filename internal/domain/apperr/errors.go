// Package apperr defines the error kinds shared by the approval, compliance
// and trigger services. Callers match them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a malformed or incomplete request.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates an unknown id, uuid or version.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a name collision.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConnector indicates a downstream provider was unreachable or returned malformed data.
	ErrConnector = errors.New("connector error")

	// ErrConflict indicates an operation blocked by live references.
	ErrConflict = errors.New("conflict")
)

// Validation returns an error wrapping ErrValidation.
func Validation(format string, args ...interface{}) error {
	return wrap(ErrValidation, format, args...)
}

// NotFound returns an error wrapping ErrNotFound.
func NotFound(format string, args ...interface{}) error {
	return wrap(ErrNotFound, format, args...)
}

// AlreadyExists returns an error wrapping ErrAlreadyExists.
func AlreadyExists(format string, args ...interface{}) error {
	return wrap(ErrAlreadyExists, format, args...)
}

// Conflict returns an error wrapping ErrConflict.
func Conflict(format string, args ...interface{}) error {
	return wrap(ErrConflict, format, args...)
}

// Connector wraps a downstream failure as ErrConnector, keeping the cause in the chain.
func Connector(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return wrap(ErrConnector, format, args...)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnector, fmt.Sprintf(format, args...), cause)
}

func wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
