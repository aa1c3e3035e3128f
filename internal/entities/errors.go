package entities

import (
	"errors"
	"fmt"
)

// Errors returned by Service. Handlers map them to problem responses.
var (
	ErrNotFound = errors.New("entity not found")
	ErrConflict = errors.New("entity name already in use")
	ErrInvalid  = errors.New("invalid input")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Value   any
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Field, e.Wrapped)
	}
	return e.Field + ": invalid value"
}

// Unwrap lets errors.Is match both the cause and ErrInvalid.
func (e *ValidationError) Unwrap() []error {
	if e.Wrapped == nil {
		return []error{ErrInvalid}
	}
	return []error{ErrInvalid, e.Wrapped}
}

func invalid(field string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: fmt.Errorf(format, args...)}
}

// StoreError wraps an unexpected repository failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
