package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies persistence failures independent of the backend.
type ErrorKind uint8

const (
	KindOther ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Error is the RepositoryError produced by the postgres and memory backends.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*Error)(nil)

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e.Kind == KindUnavailable }

// NewNotFound reports a missing entity.
func NewNotFound(op, what string) error {
	return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%s not found", what)}
}

// NewConflict reports a write that lost to a concurrent or duplicate writer.
func NewConflict(op string, err error) error {
	return &Error{Op: op, Kind: KindConflict, Err: err}
}

// IsNotFound reports whether err is a RepositoryError for a missing entity.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError for a conflicting write.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a RepositoryError for an unreachable backend.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
