package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Backend when a key holds no record
	ErrNotFound = errors.New("credential not found")

	ErrStorageWriteFailed  = errors.New("credential storage write failed")
	ErrStorageDeleteFailed = errors.New("credential storage delete failed")
)

// StorageError is returned when a backend rejects a write or delete. It
// matches ErrStorageWriteFailed or ErrStorageDeleteFailed with errors.Is.
type StorageError struct {
	Kind error
	Key  string
	Err  error
}

func newWriteError(key string, err error) *StorageError {
	return &StorageError{Kind: ErrStorageWriteFailed, Key: key, Err: err}
}

func newDeleteError(key string, err error) *StorageError {
	return &StorageError{Kind: ErrStorageDeleteFailed, Key: key, Err: err}
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Key)
}

func (e *StorageError) Is(target error) bool {
	return target == e.Kind
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
