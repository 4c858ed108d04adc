package models

import "strings"

// State is the last known connection state of a device.
type State string

const (
	StateUnknown      State = "unknown"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// ParseState maps a stored marker to a State. Anything unrecognised is Unknown.
func ParseState(raw string) State {
	switch State(strings.ToLower(strings.TrimSpace(raw))) {
	case StateConnected:
		return StateConnected
	case StateDisconnected:
		return StateDisconnected
	default:
		return StateUnknown
	}
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s == "" {
		return string(StateUnknown)
	}
	return string(s)
}
