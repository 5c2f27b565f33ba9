package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrPostNotFound      = errors.New("post not found")
	ErrInvalidURL        = errors.New("invalid url")
	ErrEmptyRawContent   = errors.New("raw content is empty")
	ErrPostRejected      = errors.New("post is rejected")
	ErrAnalysisInFlight  = errors.New("analysis already in flight")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidStep       = errors.New("invalid workflow step")
	ErrNoEntries         = errors.New("no import entries")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
