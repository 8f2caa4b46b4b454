package registry

// State represents the lifecycle state of an identity slot.
type State int

// Slot states.
const (
	// StateEmpty - No instance has been registered under the identity.
	StateEmpty State = iota

	// StateLoaded - A plugin instance occupies the slot.
	StateLoaded

	// StateErrorStandIn - An error stand-in occupies the slot.
	StateErrorStandIn

	// StateClosed - The slot was closed; the identity is never reused.
	StateClosed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StateErrorStandIn:
		return "error-stand-in"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsLive returns true if the slot holds an instance.
func (s State) IsLive() bool {
	return s == StateLoaded || s == StateErrorStandIn
}

func stateOf(inst *Instance) State {
	if inst.IsErrorStandIn {
		return StateErrorStandIn
	}
	return StateLoaded
}
