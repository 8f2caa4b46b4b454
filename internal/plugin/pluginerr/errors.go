// Package pluginerr defines the failure taxonomy of the plugin pipeline.
//
// Each typed error matches its sentinel through errors.Is, so callers can
// branch on the kind without caring about the concrete type:
//
//	if errors.Is(err, pluginerr.ErrTranspile) { ... }
package pluginerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is.
var (
	// ErrTranspile marks source text that failed to parse or lower.
	ErrTranspile = errors.New("transpile failed")

	// ErrModuleResolution marks an import that could not be resolved.
	ErrModuleResolution = errors.New("module resolution failed")

	// ErrRuntimeInstantiation marks a throw during module evaluation or
	// construction.
	ErrRuntimeInstantiation = errors.New("runtime instantiation failed")

	// ErrIdentityConflict marks a swap against an identity with no live slot.
	ErrIdentityConflict = errors.New("identity conflict")
)

// Message is a single compiler diagnostic.
type Message struct {
	File     string
	Line     int // 1-based
	Column   int // 1-based
	Text     string
	LineText string
}

// String formats the message as "file:line:col: text".
func (m Message) String() string {
	if m.File == "" {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.File, m.Line, m.Column, m.Text)
}

// TranspileError reports source text that failed to parse or lower.
type TranspileError struct {
	Path     string
	Messages []Message
}

func (e *TranspileError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("transpile %s: unknown error", e.Path)
	}
	return fmt.Sprintf("transpile %s: %s", e.Path, e.Messages[0])
}

// Is matches ErrTranspile.
func (e *TranspileError) Is(target error) bool {
	return target == ErrTranspile
}

// Detail renders every message with its source line.
func (e *TranspileError) Detail() string {
	var b strings.Builder
	for i, m := range e.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("ERROR: ")
		b.WriteString(m.String())
		if m.LineText != "" {
			fmt.Fprintf(&b, "\n    %d | %s", m.Line, m.LineText)
		}
	}
	return b.String()
}

// ModuleResolutionError reports an import that is neither reserved nor a
// fetchable remote URL.
type ModuleResolutionError struct {
	Specifier string
	Importer  string
	Err       error
}

func (e *ModuleResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %q", e.Specifier)
	if e.Importer != "" {
		msg += " imported from " + e.Importer
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModuleResolutionError) Unwrap() error {
	return e.Err
}

// Is matches ErrModuleResolution.
func (e *ModuleResolutionError) Is(target error) bool {
	return target == ErrModuleResolution
}

// RuntimeInstantiationError reports a throw while evaluating the bundled
// module or constructing the plugin.
type RuntimeInstantiationError struct {
	Path  string
	Phase string // "import" or "construct"
	Stack string // JS stack, generated coordinates
	Err   error
}

func (e *RuntimeInstantiationError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Phase, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeInstantiationError) Unwrap() error {
	return e.Err
}

// Is matches ErrRuntimeInstantiation.
func (e *RuntimeInstantiationError) Is(target error) bool {
	return target == ErrRuntimeInstantiation
}

// IdentityConflictError reports a swap against an identity that has no live
// slot. It points at a host bug rather than a plugin authoring error.
type IdentityConflictError struct {
	ID int
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("no live instance with identity %d", e.ID)
}

// Is matches ErrIdentityConflict.
func (e *IdentityConflictError) Is(target error) bool {
	return target == ErrIdentityConflict
}

// Diagnostic extracts the text shown to the user for err: the JS stack for
// runtime failures, every compiler message for transpile failures, and the
// error message otherwise.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}

	var rt *RuntimeInstantiationError
	if errors.As(err, &rt) && rt.Stack != "" {
		return rt.Stack
	}

	var te *TranspileError
	if errors.As(err, &te) && len(te.Messages) > 0 {
		return te.Detail()
	}

	return err.Error()
}

// Stage names the pipeline stage an error belongs to.
func Stage(err error) string {
	switch {
	case errors.Is(err, ErrTranspile):
		return "transpile"
	case errors.Is(err, ErrModuleResolution):
		return "resolve"
	case errors.Is(err, ErrRuntimeInstantiation):
		return "instantiate"
	case errors.Is(err, ErrIdentityConflict):
		return "registry"
	default:
		return "unknown"
	}
}
