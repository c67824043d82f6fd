// Package apperr defines the error taxonomy shared by the store, the
// extraction client and the memory pipeline.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
)

// StorageError wraps an underlying filesystem failure with the operation and
// path that produced it.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConnectionError reports an unreachable extraction endpoint or a malformed
// tool catalog.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("extraction: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExtractionError reports a failure during a memory pipeline run.
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("extraction: %v", e.Err)
	}
	return fmt.Sprintf("extraction: %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Storage builds a *StorageError, passing sentinel taxonomy errors through
// untouched so callers can still match them with errors.Is.
func Storage(op, path string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrInvalidArgument, ErrForbidden, ErrConflict} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

// Invalid returns an ErrInvalidArgument wrapped with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
