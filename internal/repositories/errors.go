package repositories

import (
	"errors"
	"fmt"
)

type storeErrorKind int

const (
	storeNotFound storeErrorKind = iota + 1
	storeConflict
	storeUnavailable
)

// StoreError is the RepositoryError returned by the in-memory and Redis backends.
type StoreError struct {
	Op   string
	Err  error
	kind storeErrorKind
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.kind == storeNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.kind == storeConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.kind == storeUnavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, what string) error {
	return &StoreError{Op: op, Err: fmt.Errorf("%s not found", what), kind: storeNotFound}
}

// NewConflictError reports a write that clashes with existing state.
func NewConflictError(op, what string) error {
	return &StoreError{Op: op, Err: fmt.Errorf("%s already exists", what), kind: storeConflict}
}

// NewUnavailableError wraps a transient backend failure.
func NewUnavailableError(op string, err error) error {
	return &StoreError{Op: op, Err: err, kind: storeUnavailable}
}

// IsNotFound reports whether err is a RepositoryError classified as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError classified as a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a RepositoryError classified as unavailable.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
