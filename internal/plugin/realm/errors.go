package realm

import "errors"

// Errors for realm operations.
var (
	// ErrRealmClosed is returned when operating on a closed realm.
	ErrRealmClosed = errors.New("realm is closed")

	// ErrExecutionTimeout is returned when a call into the realm runs past
	// the execution timeout.
	ErrExecutionTimeout = errors.New("plugin execution timeout")

	// ErrNotConstructible is returned when a module's default export cannot
	// be called with new.
	ErrNotConstructible = errors.New("default export is not constructible")

	// ErrCodeGeneration is thrown when a plugin tries to build a function
	// from a string.
	ErrCodeGeneration = errors.New("code generation from strings is disabled")

	// ErrHookOutsideRender is thrown when a hook runs outside header() or
	// body().
	ErrHookOutsideRender = errors.New("hooks can only be called inside header() or body()")
)
