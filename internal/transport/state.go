package transport

import "fmt"

// StateKind is the coarse connection lifecycle phase.
type StateKind int

const (
	Disconnected StateKind = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (k StateKind) String() string {
	switch k {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(k))
	}
}

// State is the single current connection state of a Conn.
type State struct {
	Kind StateKind

	// Attempt is the 1-based retry number while Reconnecting.
	Attempt int

	// Err is the last connection error (set for Reconnecting and Failed).
	Err error
}

func (s State) String() string {
	if s.Kind == Reconnecting {
		return fmt.Sprintf("reconnecting (attempt %d)", s.Attempt)
	}
	return s.Kind.String()
}
