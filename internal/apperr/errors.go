// Package apperr defines the sentinel errors shared across Mnemo layers.
package apperr

import "errors"

var (
	// ErrNotFound signals that a referenced note key or task ID is absent.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a create-only conflict on an existing key.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidKey signals an empty key or one containing disallowed characters.
	ErrInvalidKey = errors.New("invalid key")
	// ErrConflict signals an optimistic-concurrency checksum mismatch.
	ErrConflict = errors.New("conflict")
	// ErrStoreUnavailable signals that the durable medium is inaccessible.
	// It is fatal; callers must not retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)
