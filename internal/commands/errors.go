package commands

import (
	"errors"
	"fmt"

	"field-control-backend/internal/store"
)

var (
	ErrInvalidInput      = errors.New("commands: invalid input")
	ErrInterlockBlocked  = errors.New("commands: blocked by safety interlock")
	ErrInvalidTransition = errors.New("commands: invalid status transition")
	ErrNotFound          = errors.New("commands: command not found")
	ErrStoreUnavailable  = errors.New("commands: store unavailable")
)

// InterlockError carries the reason the safety interlock vetoed a command.
type InterlockError struct {
	Reason string
}

func (e *InterlockError) Error() string {
	return ErrInterlockBlocked.Error() + ": " + e.Reason
}

func (e *InterlockError) Unwrap() error {
	return ErrInterlockBlocked
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeError maps persistence failures onto the service taxonomy.
func storeError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
