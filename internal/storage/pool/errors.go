package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that no record exists under the requested
	// folder and key.
	ErrNotFound = errors.New("record not found")

	// ErrDataCorrupt indicates that a stored blob could not be decoded.
	ErrDataCorrupt = errors.New("data corruption detected")

	// ErrPoolClosed indicates that the pool has been shut down.
	ErrPoolClosed = errors.New("storage pool is closed")

	// ErrBackendClosed indicates that the backend is not open.
	ErrBackendClosed = errors.New("backend is closed")

	// ErrInvalidKey rejects keys that cannot be mapped onto the backend
	// namespace (empty, path separators, parent references).
	ErrInvalidKey = errors.New("invalid storage key")
)

// StoreError carries the context of a failed storage operation.
type StoreError struct {
	Op      string // "put", "get", "delete", "encode", "decode"
	Folder  string
	Key     string
	Backend string
	Status  Status
	Cause   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage %s %s/%s on %s: %v",
			e.Op, e.Folder, e.Key, e.Backend, e.Cause)
	}
	return fmt.Sprintf("storage %s %s/%s on %s: %s",
		e.Op, e.Folder, e.Key, e.Backend, e.Status)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is maps backend status codes onto the package sentinels so callers can
// use errors.Is without knowing which layer failed.
func (e *StoreError) Is(target error) bool {
	if e.Cause != nil && errors.Is(e.Cause, target) {
		return true
	}
	switch e.Status {
	case NotFound:
		return target == ErrNotFound
	case DataCorrupt:
		return target == ErrDataCorrupt
	case BackendError:
		return target == ErrBackendClosed
	}
	return false
}

// IsNotFound checks whether an error means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDataCorrupt checks whether an error indicates corruption.
func IsDataCorrupt(err error) bool {
	return errors.Is(err, ErrDataCorrupt)
}
