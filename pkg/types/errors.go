package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below wrap these so callers can use errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrCycle             = errors.New("chain would form a cycle")
	ErrStaleStatus       = errors.New("status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ValidationError reports a rejected input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing project, session, context, decision or entry.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// CycleError reports a replacement or supersession pointer that would close a loop.
// Chain holds the ids walked, starting at the proposed target.
type CycleError struct {
	Kind  string
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s chain would form a cycle: %s", e.Kind, strings.Join(e.Chain, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }
