// Package module defines the module contract and the lifecycle manager for
// the pluggable service runtime. Every unit of server functionality is a
// module: it declares its dependencies, moves through a fixed lifecycle state
// machine, and talks to the rest of the system through the event bus.
package module

import (
	"encoding/json"
	"fmt"
)

// State represents the lifecycle state of a module.
type State int32

const (
	// StateUnloaded indicates the module has no live instance.
	StateUnloaded State = iota

	// StateLoaded indicates the module instance exists and its load hook
	// succeeded, but its functionality is not active.
	StateLoaded

	// StateEnabled indicates the module is active.
	StateEnabled

	// StateDisabled indicates the module was enabled and has been switched
	// off without unloading; it can be enabled again.
	StateDisabled

	// StateError indicates a load or enable hook failed.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseState(str)
	return nil
}

// ParseState converts a string to State. Unknown strings map to StateError.
func ParseState(s string) State {
	switch s {
	case "unloaded":
		return StateUnloaded
	case "loaded":
		return StateLoaded
	case "enabled":
		return StateEnabled
	case "disabled":
		return StateDisabled
	default:
		return StateError
	}
}

// IsLoaded reports whether the module currently holds a live instance.
func (s State) IsLoaded() bool {
	return s == StateLoaded || s == StateEnabled || s == StateDisabled
}

// IsEnabled reports whether the module is active.
func (s State) IsEnabled() bool {
	return s == StateEnabled
}

// ValidTransitions defines the allowed lifecycle transitions.
var ValidTransitions = map[State][]State{
	StateUnloaded: {StateLoaded, StateError},
	StateLoaded:   {StateEnabled, StateUnloaded, StateError},
	StateEnabled:  {StateDisabled, StateError},
	StateDisabled: {StateEnabled, StateUnloaded, StateError},
	StateError:    {StateUnloaded, StateDisabled},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports an invalid lifecycle transition.
type TransitionError struct {
	Module string
	From   State
	To     State
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("module %s: invalid state transition: %s -> %s", e.Module, e.From, e.To)
}
