// Package state provides the finite state machine for the local call phase.
package state

// State represents the local phase of the current call.
type State string

const (
	StateIdle       State = "idle"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"

	// Terminal states. A new call may start from any of them.
	StateEnded    State = "ended"
	StateRejected State = "rejected"
	StateMissed   State = "missed"
	StateFailed   State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsActive returns true while a call occupies the device.
func (s State) IsActive() bool {
	switch s {
	case StateRinging, StateConnecting, StateConnected:
		return true
	default:
		return false
	}
}

// IsInCall returns true once the local device committed to media.
func (s State) IsInCall() bool {
	return s == StateConnecting || s == StateConnected
}

// IsTerminal returns true if the state ends a call.
func (s State) IsTerminal() bool {
	switch s {
	case StateEnded, StateRejected, StateMissed, StateFailed:
		return true
	default:
		return false
	}
}
