package memory

import "fmt"

// State is a pipeline stage. Stages only move forward within a run; Error is
// left only through Retry.
type State int

const (
	Idle State = iota
	Understanding
	GeneratingParameters
	Saving
	Done
	Error
)

var stateNames = [...]string{
	Idle:                 "idle",
	Understanding:        "understanding",
	GeneratingParameters: "generating_parameters",
	Saving:               "saving",
	Done:                 "done",
	Error:                "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("memory: unknown state %q", b)
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == Done || s == Error }
