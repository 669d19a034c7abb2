package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a collection holds the same signature twice.
	ErrDuplicateKey = errors.New("duplicate key: signature appears more than once")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned by blob backends when a conditional write loses.
	ErrConflict = errors.New("conditional write conflict")
)
