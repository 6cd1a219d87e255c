package repositories

import (
	"errors"
	"fmt"
)

// StoreErrorCode classifies persistence failures.
type StoreErrorCode string

const (
	StoreErrorUnknown     StoreErrorCode = "store_unknown"
	StoreErrorNotFound    StoreErrorCode = "store_not_found"
	StoreErrorConflict    StoreErrorCode = "store_conflict"
	StoreErrorUnavailable StoreErrorCode = "store_unavailable"
)

// StoreError is the RepositoryError returned by every storage driver.
type StoreError struct {
	Op     string
	Code   StoreErrorCode
	Entity string
	ID     string
	Err    error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Code)
	if e.Entity != "" {
		msg = fmt.Sprintf("%s %s", e.Entity, msg)
		if e.ID != "" {
			msg = fmt.Sprintf("%s %q", msg, e.ID)
		}
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying driver error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Code == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Code == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == StoreErrorUnavailable }

// NewNotFound reports a missing entity.
func NewNotFound(op, entity, id string) *StoreError {
	return &StoreError{Op: op, Code: StoreErrorNotFound, Entity: entity, ID: id}
}

// NewConflict reports a uniqueness or concurrency conflict.
func NewConflict(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Code: StoreErrorConflict, Entity: entity, ID: id, Err: err}
}

// NewUnavailable reports a transient backend failure.
func NewUnavailable(op string, err error) *StoreError {
	return &StoreError{Op: op, Code: StoreErrorUnavailable, Err: err}
}

// Wrap classifies err as an unknown failure unless it already is a RepositoryError.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	return &StoreError{Op: op, Code: StoreErrorUnknown, Err: err}
}

// IsNotFound reports whether err is a RepositoryError signalling a missing entity.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError signalling a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
