package control

import "fmt"

// State is the lifecycle state of one channel instance.
type State int32

// Channel states. Deleted is terminal.
const (
	StateUninitialized State = iota
	StateActive
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*s = StateUninitialized
	case "active":
		*s = StateActive
	case "deleted":
		*s = StateDeleted
	default:
		return fmt.Errorf("unknown channel state %q", b)
	}
	return nil
}
