// Package apperrors defines the error taxonomy shared by the stores, the
// external collaborators and the orchestration layer.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced event or record is absent.
	ErrNotFound = errors.New("not found")
	// ErrEventAlreadyActive is returned when a new event would be active at
	// the same time as an existing one.
	ErrEventAlreadyActive = errors.New("event already active")
	// ErrNoActiveEvent is returned when an operation needs an active event.
	ErrNoActiveEvent = errors.New("no active event")
)

// DatabaseError wraps a storage failure.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Database wraps err as a DatabaseError unless it is nil or already one of
// the lifecycle sentinels.
func Database(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrEventAlreadyActive) || errors.Is(err, ErrNoActiveEvent) {
		return err
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	return &DatabaseError{Op: op, Err: err}
}

// ExternalServiceError wraps a failure from the classifier, generator,
// summarizer or messaging transport.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External wraps err as an ExternalServiceError. Nil stays nil.
func External(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalServiceError{Service: service, Op: op, Err: err}
}

// ValidationError reports malformed input such as an empty channel name.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsDatabase reports whether err is or wraps a DatabaseError.
func IsDatabase(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr)
}

// IsExternal reports whether err is or wraps an ExternalServiceError.
func IsExternal(err error) bool {
	var extErr *ExternalServiceError
	return errors.As(err, &extErr)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
