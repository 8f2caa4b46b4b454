package shell

import (
	"errors"
	"fmt"
)

// Shell errors.
var (
	// ErrInitialization is matched by every InitError.
	ErrInitialization = errors.New("initialization failed")

	// ErrWatchUnsupported is returned by Watch when the store has no
	// directory on disk to follow.
	ErrWatchUnsupported = errors.New("store does not support watching")

	// ErrClosed is returned when the shell has been shut down.
	ErrClosed = errors.New("shell is shut down")
)

// InitError reports the component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initializing %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrInitialization.
func (e *InitError) Is(target error) bool {
	return target == ErrInitialization
}
