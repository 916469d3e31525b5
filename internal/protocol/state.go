package protocol

import (
	"fmt"
	"strings"
)

// State is a device lifecycle state.
type State int

// Lifecycle states. DISABLED and GOINGDOWN are terminal.
const (
	StateDisabled State = iota
	StateInitial
	StateIdle
	StateClaiming
	StateClaimed
	StatePreparing
	StateSuspended
	StateActive
	StateReleasing
	StateGoingDown
)

var stateNames = [...]string{
	StateDisabled:  "DISABLED",
	StateInitial:   "INITIAL",
	StateIdle:      "IDLE",
	StateClaiming:  "CLAIMING",
	StateClaimed:   "CLAIMED",
	StatePreparing: "PREPARING",
	StateSuspended: "SUSPENDED",
	StateActive:    "ACTIVE",
	StateReleasing: "RELEASING",
	StateGoingDown: "GOINGDOWN",
}

// String returns the upper-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions can leave s.
func (s State) Terminal() bool {
	return s == StateDisabled || s == StateGoingDown
}

// Waiting reports whether s is a state in which the device waits for its
// children to catch up before moving on.
func (s State) Waiting() bool {
	return s == StateClaiming || s == StatePreparing || s == StateReleasing
}

// ParseState converts a state name (case-insensitive) into a State.
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == upper {
			return State(i), nil
		}
	}
	return StateDisabled, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
