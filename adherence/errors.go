/*
errors.go - Error taxonomy for the adherence core

CATEGORIES:
  NotFound      referenced medication (or user) is absent
  Conflict      would-be duplicate day record, duplicate username
  Unavailable   the underlying store failed; safe to retry
  InvalidInput  malformed identifiers, dates, or fields

  Core operations never retry and never substitute a default value for data
  they could not read: a failed log read surfaces as Unavailable, not 0%.

USAGE:
  if errors.Is(err, adherence.ErrNotFound) { ... }
  switch adherence.KindOf(err) { ... }
*/
package adherence

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("storage unavailable")
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateDay is returned by stores when a second LogEntry for the
	// same (medication, date) is inserted.
	ErrDuplicateDay = fmt.Errorf("%w: log entry already exists for this day", ErrConflict)

	// ErrDuplicateUsername is returned by stores when a username is taken.
	ErrDuplicateUsername = fmt.Errorf("%w: username already exists", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StorageError wraps a store failure. It matches ErrUnavailable and still
// exposes the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrUnavailable, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// InvalidInputError describes a rejected field.
type InvalidInputError struct {
	Field string
	Value any
	Err   error
}

func (e *InvalidInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %v", e.Field, e.Value)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// unavailable wraps err as a StorageError unless it already carries a kind.
func unavailable(op string, err error) error {
	if KindOf(err) != KindInternal {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// KINDS
// =============================================================================

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
