package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidBar       = errors.New("invalid bar (high < low)")
	ErrInvalidVolume    = errors.New("invalid volume")
	ErrInvalidTimeframe = errors.New("invalid timeframe")

	ErrUnknownIndicator   = errors.New("unknown indicator")
	ErrDuplicateIndicator = errors.New("indicator already registered")
	ErrUnknownDependency  = errors.New("unknown indicator dependency")
	ErrDependencyCycle    = errors.New("indicator dependency cycle")
	ErrHasDependents      = errors.New("indicator has dependents")
	ErrDependencyFailed   = errors.New("indicator dependency failed")
	ErrStaleBar           = errors.New("bar is older than last committed bar")

	ErrValidation    = errors.New("validation error")
	ErrCompute       = errors.New("compute error")
	ErrQueueOverflow = errors.New("queue overflow")
)

// UnknownIndicatorError is returned when a spec names an indicator that is not registered.
type UnknownIndicatorError struct {
	Name string
}

func (e *UnknownIndicatorError) Error() string {
	return fmt.Sprintf("unknown indicator %q", e.Name)
}

func (e *UnknownIndicatorError) Is(target error) bool {
	return target == ErrUnknownIndicator
}

// ValidationError describes a malformed spec, bar or update.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg += " on " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ComputeError is a failure inside one indicator's computation during one pass.
type ComputeError struct {
	SpecID string
	Err    error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute %s: %v", e.SpecID, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

func (e *ComputeError) Is(target error) bool {
	return target == ErrCompute
}
