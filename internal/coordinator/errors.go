package coordinator

import "errors"

// Precondition errors returned to the control surface. None of them change
// the call phase.
var (
	ErrBusy           = errors.New("another call is already active")
	ErrNoIncomingCall = errors.New("no incoming call")
	ErrNoActiveCall   = errors.New("no active call")
	ErrInvalidRequest = errors.New("invalid request")
	ErrStopped        = errors.New("coordinator stopped")
)
