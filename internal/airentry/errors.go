package airentry

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("air entry not found")
	ErrValidation    = errors.New("invalid air entry")
	ErrObserverPanic = errors.New("observer panicked")
)

func newNotFound(id string) error {
	return fmt.Errorf("entry %q: %w", id, ErrNotFound)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
