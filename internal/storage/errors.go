package storage

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by every engine operation invoked before
// Initialize has succeeded.
var ErrNotInitialized = errors.New("storage not initialized")

// ErrNotRegularFile is returned when a removal targets a directory or
// another non-regular entry.
var ErrNotRegularFile = errors.New("not a regular file")

// StorageError reports a filesystem failure for a single engine operation.
type StorageError struct {
	Op   string
	Hash string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	msg := "storage " + e.Op
	if e.Hash != "" {
		msg += " " + e.Hash
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

// DecodeError reports a hash that is malformed or that would resolve to a
// location outside the storage root.
type DecodeError struct {
	Hash   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode hash %q: %s: %v", e.Hash, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode hash %q: %s", e.Hash, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func storageErr(op, hash, path string, err error) error {
	return &StorageError{Op: op, Hash: hash, Path: path, Err: err}
}
