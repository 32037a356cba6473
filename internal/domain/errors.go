package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrValidation          = errors.New("validation error")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamError       = errors.New("upstream error")
)

// Specific errors raised by the lending flow. Each wraps one of the sentinels
// above so callers can match either level with errors.Is.
var (
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrBookNotFound         = fmt.Errorf("book %w", ErrNotFound)
	ErrRecordNotFound       = fmt.Errorf("borrow record %w", ErrNotFound)
	ErrNoActiveLoan         = fmt.Errorf("active borrow record %w", ErrNotFound)
	ErrBookAlreadyBorrowed  = fmt.Errorf("book is already borrowed: %w", ErrConflict)
	ErrAvailabilityMismatch = fmt.Errorf("availability changed concurrently: %w", ErrConflict)
	ErrRequestInProgress    = fmt.Errorf("request with this idempotency key is in progress: %w", ErrConflict)
	ErrEmailTaken           = fmt.Errorf("email already registered: %w", ErrAlreadyExists)
	ErrInvalidCredentials   = fmt.Errorf("invalid email or password: %w", ErrUnauthorized)
)

// UpstreamError reports a peer service answering with an unexpected status.
type UpstreamError struct {
	Service    string
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s service responded %d: %s", e.Service, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s service responded %d", e.Service, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamError }

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}
