package registry

// EventHandler handles registry events.
// Handlers must be non-blocking and should not call back into the Registry
// to avoid deadlocks. Panics in handlers are recovered.
type EventHandler func(event Event)

// Event notifies the host that the instance under an identity changed.
type Event struct {
	Type       EventType
	ID         StableID
	Path       string
	StandIn    bool
	Generation int
}

// EventType is the type of registry event.
type EventType int

const (
	// EventLoaded is emitted when a new identity is registered.
	EventLoaded EventType = iota
	// EventReplaced is emitted when the instance under an identity is swapped.
	EventReplaced
	// EventClosed is emitted when an identity is closed.
	EventClosed
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventReplaced:
		return "replaced"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (r *Registry) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, handler)
	index := len(r.handlers) - 1
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(r.handlers) {
			r.handlers[index] = nil
		}
	}
}

// emit sends an event to all handlers.
// Handlers are called outside any locks and panics are recovered.
func (r *Registry) emit(event Event) {
	r.mu.RLock()
	handlers := make([]EventHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("event handler panicked", "event", event.Type.String(), "id", int(event.ID), "panic", rec)
				}
			}()
			handler(event)
		}()
	}
}
