package app

import (
	"fmt"
	"sync"

	"github.com/runnit/runnit/internal/plugin/ui"
)

// Base supplies default behavior for Application. The zero value is ready
// to use; embed it by pointer or value and override Header/Body as needed.
type Base struct {
	mu sync.RWMutex

	metadata  Metadata
	typeName  string
	trailing  []ui.Node
	maximized bool
	minimized bool

	onGrabStart   func()
	onGrabbing    func()
	onGrabEnd     func()
	onMaximize    func()
	onMinimize    func()
	onClose       func()
	onResizeStart func([]Side)
	onResizing    func([]Side)
	onResizeEnd   func([]Side)
}

// NewBase returns a Base with initial metadata. typeName is used by the
// default body ("Override <typeName>.body() ...").
func NewBase(typeName string, m Metadata) *Base {
	return &Base{typeName: typeName, metadata: m}
}

// Metadata returns the current metadata.
func (b *Base) Metadata() Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metadata
}

// SetMetadata replaces the metadata. Empty fields keep their previous value.
func (b *Base) SetMetadata(m Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.Name != "" {
		b.metadata.Name = m.Name
	}
	if m.Icon != "" {
		b.metadata.Icon = m.Icon
	}
}

// DefaultSize returns the initial window size.
func (b *Base) DefaultSize() Size { return DefaultSize }

// MinimumSize returns the smallest allowed window size.
func (b *Base) MinimumSize() Size { return MinimumSize }

// SetTrailingItems replaces the extra header items shown before the window
// buttons.
func (b *Base) SetTrailingItems(items ...ui.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trailing = append([]ui.Node(nil), items...)
}

// AddTrailingItem appends an extra header item.
func (b *Base) AddTrailingItem(item ui.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trailing = append(b.trailing, item)
}

// TrailingItems returns a copy of the extra header items.
func (b *Base) TrailingItems() []ui.Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]ui.Node(nil), b.trailing...)
}

// Header renders the default window header.
func (b *Base) Header() (ui.Node, error) {
	m := b.Metadata()
	return b.HeaderFor(m, b.TrailingItems()), nil
}

// HeaderFor renders the default header for the given metadata and trailing
// items. Adapters whose metadata lives elsewhere call it directly.
func (b *Base) HeaderFor(m Metadata, trailing []ui.Node) ui.Node {
	title := ui.Element("div", map[string]any{
		"className":     "w-full h-full flex flex-row items-center px-2 gap-2",
		"draggable":     true,
		"onDragStart":   ui.Handler(func(...any) error { b.GrabStart(); return nil }),
		"onDoubleClick": ui.Handler(func(...any) error { b.SetMaximized(!b.IsMaximized()); return nil }),
	},
		ui.Element("img", map[string]any{"src": m.Icon, "alt": "", "width": 20, "height": 20}),
		ui.Element("small", nil, ui.Text(m.Name)),
	)

	controls := make([]ui.Node, 0, len(trailing)+3)
	controls = append(controls, trailing...)
	controls = append(controls,
		windowButton("minimize", "_", func() { b.SetMinimized(!b.IsMinimized()) }),
		windowButton("maximize", "[]", func() { b.SetMaximized(!b.IsMaximized()) }),
		windowButton("close", "x", b.CloseWindow),
	)

	return ui.Element("div", map[string]any{
		"className": "flex flex-row justify-between items-center",
		"role":      "header",
	},
		title,
		ui.Element("div", map[string]any{"className": "h-full flex flex-row"}, controls...),
	)
}

func windowButton(id, label string, fn func()) ui.Node {
	return ui.Element("div", map[string]any{
		"id":      id,
		"role":    "button",
		"onClick": ui.Handler(func(...any) error { fn(); return nil }),
	}, ui.Text(label))
}

// Body renders the placeholder body.
func (b *Base) Body() (ui.Node, error) {
	name := b.typeName
	if name == "" {
		name = b.Metadata().Name
	}
	if name == "" {
		name = "App"
	}
	return ui.Element("div", map[string]any{
		"className": "bg-white flex flex-col justify-center items-center w-full h-full",
	},
		ui.Element("p", nil, ui.Text(fmt.Sprintf("Override %s.body() to update the app.", name))),
	), nil
}

// SetOnGrabStart implements Lifecycle.
func (b *Base) SetOnGrabStart(fn func()) { b.set(func() { b.onGrabStart = fn }) }

// SetOnGrabbing implements Lifecycle.
func (b *Base) SetOnGrabbing(fn func()) { b.set(func() { b.onGrabbing = fn }) }

// SetOnGrabEnd implements Lifecycle.
func (b *Base) SetOnGrabEnd(fn func()) { b.set(func() { b.onGrabEnd = fn }) }

// SetOnMaximize implements Lifecycle.
func (b *Base) SetOnMaximize(fn func()) { b.set(func() { b.onMaximize = fn }) }

// SetOnMinimize implements Lifecycle.
func (b *Base) SetOnMinimize(fn func()) { b.set(func() { b.onMinimize = fn }) }

// SetOnClose implements Lifecycle.
func (b *Base) SetOnClose(fn func()) { b.set(func() { b.onClose = fn }) }

// SetOnResizeStart implements Lifecycle.
func (b *Base) SetOnResizeStart(fn func([]Side)) { b.set(func() { b.onResizeStart = fn }) }

// SetOnResizing implements Lifecycle.
func (b *Base) SetOnResizing(fn func([]Side)) { b.set(func() { b.onResizing = fn }) }

// SetOnResizeEnd implements Lifecycle.
func (b *Base) SetOnResizeEnd(fn func([]Side)) { b.set(func() { b.onResizeEnd = fn }) }

func (b *Base) set(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

// IsMaximized reports the maximize toggle.
func (b *Base) IsMaximized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maximized
}

// IsMinimized reports the minimize toggle.
func (b *Base) IsMinimized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.minimized
}

// SetMaximized toggles maximize and fires the callback on change.
func (b *Base) SetMaximized(v bool) {
	b.mu.Lock()
	changed := b.maximized != v
	b.maximized = v
	cb := b.onMaximize
	b.mu.Unlock()

	if changed && cb != nil {
		cb()
	}
}

// SetMinimized toggles minimize. Without a callback the toggle is ignored,
// as there is nothing to hide the window.
func (b *Base) SetMinimized(v bool) {
	b.mu.Lock()
	cb := b.onMinimize
	changed := b.minimized != v
	if cb != nil && changed {
		b.minimized = v
	}
	b.mu.Unlock()

	if cb != nil && changed {
		cb()
	}
}

// CloseWindow fires the close callback.
func (b *Base) CloseWindow() {
	b.fire(func() func() { return b.onClose })
}

// GrabStart fires the drag-start callback.
func (b *Base) GrabStart() { b.fire(func() func() { return b.onGrabStart }) }

// Grabbing fires the drag-move callback.
func (b *Base) Grabbing() { b.fire(func() func() { return b.onGrabbing }) }

// GrabEnd fires the drag-end callback.
func (b *Base) GrabEnd() { b.fire(func() func() { return b.onGrabEnd }) }

// ResizeStart fires the resize-start callback.
func (b *Base) ResizeStart(sides ...Side) {
	b.fireSides(func() func([]Side) { return b.onResizeStart }, sides)
}

// Resizing fires the resize-move callback.
func (b *Base) Resizing(sides ...Side) {
	b.fireSides(func() func([]Side) { return b.onResizing }, sides)
}

// ResizeEnd fires the resize-end callback.
func (b *Base) ResizeEnd(sides ...Side) {
	b.fireSides(func() func([]Side) { return b.onResizeEnd }, sides)
}

func (b *Base) fire(get func() func()) {
	b.mu.RLock()
	cb := get()
	b.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (b *Base) fireSides(get func() func([]Side), sides []Side) {
	b.mu.RLock()
	cb := get()
	b.mu.RUnlock()
	if cb != nil {
		cb(sides)
	}
}
