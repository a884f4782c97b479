package apperrors

import (
	"errors"
	"fmt"

	"github.com/stingnet/sting-engine/pkg/retry"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrMalformedData   = errors.New("malformed data")
	ErrInvalidArgument = errors.New("invalid argument")
)

// StorageError reports that the storage engine (or the blob store) was unreachable
// or rejected a write. The whole call failed; callers are expected to retry the
// ingestion event rather than the single statement.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the underlying failure looks transient.
func (e *StorageError) IsRetryable() bool {
	return retry.IsRetryable(e.Err)
}

// Storage wraps err as a StorageError for op. Sentinel errors from this package
// and nil pass through unchanged so callers can still match them with errors.Is.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
