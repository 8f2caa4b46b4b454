// Package app defines the Application capability that every running plugin
// satisfies.
//
// The capability is an interface, not a base class. Base supplies default
// bodies for every method and is meant to be embedded, so an implementation
// only writes the methods it cares about. JavaScript plugins satisfy the same
// contract structurally through the realm adapter.
package app

import "github.com/runnit/runnit/internal/plugin/ui"

// Metadata is the mutable identity shown by the desktop and taskbar.
type Metadata struct {
	Name string
	Icon string
}

// Side is a window edge involved in a resize.
type Side string

// Window edges.
const (
	North Side = "north"
	South Side = "south"
	East  Side = "east"
	West  Side = "west"
)

// Size is a window size in pixels.
type Size struct {
	Width  int
	Height int
}

// Default and minimum window sizes.
var (
	DefaultSize = Size{Width: 1100, Height: 700}
	MinimumSize = Size{Width: 450, Height: 250}
)

// Lifecycle is the set of setters the host uses to wire window callbacks.
type Lifecycle interface {
	SetOnGrabStart(fn func())
	SetOnGrabbing(fn func())
	SetOnGrabEnd(fn func())
	SetOnMaximize(fn func())
	SetOnMinimize(fn func())
	SetOnClose(fn func())
	SetOnResizeStart(fn func(sides []Side))
	SetOnResizing(fn func(sides []Side))
	SetOnResizeEnd(fn func(sides []Side))
}

// Application is the capability a plugin implements.
type Application interface {
	Metadata() Metadata
	SetMetadata(m Metadata)
	Header() (ui.Node, error)
	Body() (ui.Node, error)
	Lifecycle
}

// StandIn is implemented by applications that replace a failed load.
type StandIn interface {
	Diagnostic() string
}

// Closer is implemented by applications holding resources (a realm) that
// must be released when the window closes.
type Closer interface {
	Close() error
}

// DiagnosticOf returns the diagnostic text of a stand-in, and whether a is
// one.
func DiagnosticOf(a Application) (string, bool) {
	s, ok := a.(StandIn)
	if !ok {
		return "", false
	}
	return s.Diagnostic(), true
}
