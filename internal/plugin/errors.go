package plugin

import (
	"errors"
	"fmt"

	"github.com/runnit/runnit/internal/plugin/pluginerr"
)

// Engine errors.
var (
	// ErrPanic is wrapped by errors recovered from a panic in the pipeline.
	ErrPanic = errors.New("plugin pipeline panicked")

	// ErrNotFound is returned when no live instance has the requested ID.
	ErrNotFound = errors.New("plugin instance not found")
)

// Pipeline stages reported in LoadError, in addition to pluginerr.Stage.
const (
	StageRead  = "read"
	StagePanic = "panic"
)

// LoadError reports a failed compile-and-load of one plugin file.
type LoadError struct {
	// Path is the plugin's virtual path.
	Path string

	// Stage is the pipeline stage that failed.
	Stage string

	// Diagnostic is the text shown to the user, with stack locations
	// translated to original source positions.
	Diagnostic string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s (%s): %v", e.Path, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// stageError tags an error with the pipeline stage it came from when
// pluginerr.Stage cannot tell.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	if errors.Is(err, ErrPanic) {
		return StagePanic
	}
	return pluginerr.Stage(err)
}

// recovered converts a recovered panic value into an error.
func recovered(r any) error {
	return fmt.Errorf("%w: %v", ErrPanic, r)
}
