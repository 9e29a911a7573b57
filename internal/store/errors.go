package store

import "errors"

var (
	// ErrNotFound is returned when a command id does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when a write violates the one-dispatched-per-device index.
	ErrConflict = errors.New("store: conflicting dispatched command")
)
