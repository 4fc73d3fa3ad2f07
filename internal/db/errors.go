package db

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching. The typed errors below unwrap to these.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("decision not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateDecision = errors.New("decision already queued")
)

// ValidationError reports malformed input rejected before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an unknown decision id.
type NotFoundError struct {
	DecisionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("decision %s not found", e.DecisionID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidTransitionError reports an attempted transition the state machine forbids,
// including the loser of a concurrent resolution race.
type InvalidTransitionError struct {
	DecisionID string
	From       Status
	To         Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("decision %s: cannot transition %s -> %s", e.DecisionID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// DuplicateDecisionError reports an enqueue of an id that is already live.
type DuplicateDecisionError struct {
	DecisionID string
}

func (e *DuplicateDecisionError) Error() string {
	return fmt.Sprintf("decision %s is already in the live queue", e.DecisionID)
}

func (e *DuplicateDecisionError) Unwrap() error { return ErrDuplicateDecision }

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
