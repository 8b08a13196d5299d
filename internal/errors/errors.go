// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrFetchFailed         = errors.New("fetch failed")
	ErrNoOwnershipDocument = errors.New("no ownership document")
	ErrMalformedFiling     = errors.New("malformed filing")
	ErrStoreWrite          = errors.New("store write failed")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
)

// FilingError represents a failure tied to one filing document.
type FilingError struct {
	Path string
	Op   string
	Err  error
}

func (e *FilingError) Error() string {
	return fmt.Sprintf("filing %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *FilingError) Unwrap() error {
	return e.Err
}

// NewFilingError creates a new FilingError.
func NewFilingError(path, op string, err error) *FilingError {
	return &FilingError{
		Path: path,
		Op:   op,
		Err:  err,
	}
}

// StoreError represents a failed storage operation.
type StoreError struct {
	Op   string
	Unit string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("store error [%s] %s: %v", e.Op, e.Unit, e.Err)
	}
	return fmt.Sprintf("store error [%s]: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, unit string, err error) *StoreError {
	return &StoreError{
		Op:   op,
		Unit: unit,
		Err:  err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Join combines errors, dropping nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
