package models

import (
	"encoding/json"
	"fmt"
)

// State is the coordination state of the kiosk session.
type State int

// State constants define the lifecycle of a verification attempt.
const (
	StateIdle State = iota
	StateLocalGateOpen
	StateUploading
	StateResolving
	StateProfileLookingUp
	StateVerified
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateLocalGateOpen:    "local_gate_open",
	StateUploading:        "uploading",
	StateResolving:        "resolving",
	StateProfileLookingUp: "profile_looking_up",
	StateVerified:         "verified",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Busy reports whether an attempt's chain is outstanding in this state.
func (s State) Busy() bool {
	switch s {
	case StateLocalGateOpen, StateUploading, StateResolving, StateProfileLookingUp:
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	for st, n := range stateNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}
