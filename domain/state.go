package domain

import "fmt"

// State is a workflow stage of a story on the board. The numeric value is the
// ordinal used by the backward-move guard.
type State int

const (
	Todo State = iota
	InProgress
	Completed
)

// TerminalState is the stage no story may leave.
const TerminalState = Completed

var stateNames = [...]string{
	Todo:       "Todo",
	InProgress: "In-Progress",
	Completed:  "Completed",
}

// BoardStates lists the board columns in workflow order.
var BoardStates = []State{Todo, InProgress, Completed}

// Valid reports whether s is one of the board columns.
func (s State) Valid() bool {
	return s >= Todo && s <= Completed
}

// String returns the wire name of s.
func (s State) String() string {
	if !s.Valid() {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState maps a stored or wire state name to a board State. Stages that
// are not on the board, such as "Backlog", are rejected.
func ParseState(v string) (State, error) {
	for i, name := range stateNames {
		if name == v {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown board state %q", v)
}

// MarshalText encodes s as its wire name.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a wire name with ParseState.
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// CanTransition reports whether a story in from may move into to.
func CanTransition(from, to State) bool {
	return from.Valid() && to.Valid() && to >= from
}
