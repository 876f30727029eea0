package popularity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a reference to an item or filter scope that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized reports a missing or wrong shared secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

// Invalid returns a ValidationError for field.
func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError wraps a persistence failure. Op names the failed operation
// so it can be logged; Error() deliberately keeps the cause for logs while
// HTTP handlers render a generic message.
type StorageError struct {
	Op  string
	Err error
}

// Storage wraps err as a StorageError, passing through nil and
// domain errors that already carry meaning for the caller.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Rollup stages, in execution order.
const (
	StageResolve  = "resolve"
	StageDaily    = "daily"
	StageWindowed = "windowed"
	StageLifetime = "lifetime"
	StageLedger   = "ledger"
)

// RollupError reports the stage at which a rollup run failed. The run as a
// whole is recorded as failed; no partial success is reported.
type RollupError struct {
	Stage string
	Err   error
}

func (e *RollupError) Error() string {
	return fmt.Sprintf("rollup %s stage: %v", e.Stage, e.Err)
}

func (e *RollupError) Unwrap() error { return e.Err }
