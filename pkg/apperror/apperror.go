// Package apperror defines the error kinds shared by the invoicing services.
//
// Domain packages declare their sentinels by wrapping one of the kinds below so
// callers can match either the precise sentinel or the broader kind:
//
//	var ErrInvalidAmount = apperror.Validation("invalid_amount")
//	errors.Is(err, ErrInvalidAmount)        // precise
//	errors.Is(err, apperror.ErrValidation)  // kind
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or out-of-range input. Nothing was read or written.
	ErrValidation = errors.New("validation_error")
	// ErrNotFound marks a missing invoice, booking or payment. Nothing was written.
	ErrNotFound = errors.New("not_found")
	// ErrConflict marks a write that lost a concurrency race and gave up retrying.
	ErrConflict = errors.New("conflict")
	// ErrTransaction marks a failed write transaction. It was rolled back.
	ErrTransaction = errors.New("transaction_error")
)

// Validation returns a sentinel of kind ErrValidation.
func Validation(code string) error {
	return fmt.Errorf("%w: %s", ErrValidation, code)
}

// NotFound returns a sentinel of kind ErrNotFound.
func NotFound(code string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, code)
}

// Conflict returns a sentinel of kind ErrConflict.
func Conflict(code string) error {
	return fmt.Errorf("%w: %s", ErrConflict, code)
}

// Transaction wraps cause as a transaction failure. Errors that already carry a
// kind are returned unchanged.
func Transaction(cause error) error {
	if cause == nil {
		return nil
	}
	if KindOf(cause) != nil {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrTransaction, cause)
}

// KindOf reports which kind err belongs to, or nil for unclassified errors.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrConflict):
		return ErrConflict
	case errors.Is(err, ErrTransaction):
		return ErrTransaction
	default:
		return nil
	}
}
