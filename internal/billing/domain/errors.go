package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a missing or malformed field detected before a write.
	ErrValidation = errors.New("billing: validation failed")
	// ErrNotFound is returned when a query matches zero documents.
	ErrNotFound = errors.New("billing: not found")
	// ErrStorage marks an unreachable store or an unacknowledged write.
	ErrStorage = errors.New("billing: storage failure")
	// ErrExternalService marks a ledger failure or a malformed ledger response.
	ErrExternalService = errors.New("billing: external service failure")
	// ErrInvalidTransition is returned for a status move outside the transition table.
	ErrInvalidTransition = errors.New("billing: invalid status transition")
	// ErrStatusConflict is returned when a conditional write finds a different current status.
	ErrStatusConflict = errors.New("billing: installment status changed concurrently")
	// ErrInvalidSerialNumber is returned when a serial number cannot be parsed.
	ErrInvalidSerialNumber = errors.New("billing: invalid serial number")
	// ErrInvalidRate is returned for a rate number outside 1..3.
	ErrInvalidRate = errors.New("billing: invalid rate number")
	// ErrSettingsNotConfigured is returned when no price settings exist yet.
	ErrSettingsNotConfigured = errors.New("billing: price settings not configured")
)

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("billing: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StorageError wraps a store failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err unless it is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("billing: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// ExternalServiceError describes a failed ledger call.
type ExternalServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("billing: ledger %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("billing: ledger %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// TransitionError reports a rejected status move.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("billing: invalid status transition %s -> %s", e.From.Key(), e.To.Key())
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
