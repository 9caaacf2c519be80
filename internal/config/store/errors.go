package store

import (
	"errors"
	"fmt"
)

// ErrReadOnly is wrapped by StorageError when a mutation is attempted on a
// store opened read-only.
var ErrReadOnly = errors.New("store opened read-only")

// ValidationError reports bad caller input: an empty or duplicate name, a
// malformed host, a missing required secret.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// DataError reports persisted or imported data that cannot be interpreted.
type DataError struct {
	Op  string
	Err error
}

func (e DataError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e DataError) Unwrap() error { return e.Err }

// StorageError reports an I/O failure of the configuration database or the
// secret vault. It is surfaced as-is; nothing here retries.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e StorageError) Unwrap() error { return e.Err }

// IsValidation returns true when err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// IsData returns true when err is (or wraps) a DataError.
func IsData(err error) bool {
	var target DataError
	return errors.As(err, &target)
}

// IsStorage returns true when err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var target StorageError
	return errors.As(err, &target)
}

func storageErr(op string, err error) error {
	return StorageError{Op: "config: " + op, Err: err}
}

func dataErr(op string, err error) error {
	return DataError{Op: "config: " + op, Err: err}
}

func readOnlyErr(op string) error {
	return StorageError{Op: "config: " + op, Err: ErrReadOnly}
}
