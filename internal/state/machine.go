package state

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// TransitionCallback is called when a state transition occurs.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// Machine wraps the stateless state machine with call phase behavior.
type Machine struct {
	sm          *stateless.StateMachine
	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

var terminalStates = []State{StateEnded, StateRejected, StateMissed, StateFailed}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine() *Machine {
	m := &Machine{
		callbacks: make([]TransitionCallback, 0),
	}

	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(TriggerDial, StateConnecting).
		Permit(TriggerIncoming, StateRinging).
		Ignore(TriggerReset)

	// Incoming call shown, not yet answered
	sm.Configure(StateRinging).
		Permit(TriggerAnswer, StateConnecting).
		Permit(TriggerDecline, StateRejected).
		Permit(TriggerRemoteEnded, StateMissed).
		Permit(TriggerRemoteMissed, StateMissed).
		Permit(TriggerRemoteRejected, StateRejected).
		Permit(TriggerRingTimeout, StateMissed).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerReset, StateIdle)

	// Outgoing call dialing, or answered call joining media
	sm.Configure(StateConnecting).
		Permit(TriggerRemoteJoined, StateConnected).
		Permit(TriggerHangup, StateEnded).
		Permit(TriggerMediaLeft, StateEnded).
		Permit(TriggerRemoteEnded, StateEnded).
		Permit(TriggerRemoteRejected, StateRejected).
		Permit(TriggerRemoteMissed, StateMissed).
		Permit(TriggerRingTimeout, StateMissed).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerReset, StateIdle)

	sm.Configure(StateConnected).
		Permit(TriggerHangup, StateEnded).
		Permit(TriggerMediaLeft, StateEnded).
		Permit(TriggerRemoteEnded, StateEnded).
		Permit(TriggerRemoteRejected, StateEnded).
		Permit(TriggerRemoteMissed, StateEnded).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerReset, StateIdle)

	// Terminal states keep the outcome visible until the next call or a reset
	for _, s := range terminalStates {
		sm.Configure(s).
			Permit(TriggerDial, StateConnecting).
			Permit(TriggerIncoming, StateRinging).
			Permit(TriggerReset, StateIdle)
	}

	sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)

		for _, cb := range callbacks {
			cb(ctx, from, to, trigger)
		}
	})

	m.sm = sm
	return m
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	state, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return state.(State), nil
}

// Fire triggers a state transition.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// IsInState returns true if the machine is in the specified state.
func (m *Machine) IsInState(ctx context.Context, state State) (bool, error) {
	currentState, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	return currentState == state, nil
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// MustState returns the current state, panicking on error.
func (m *Machine) MustState() State {
	state, err := m.State(context.Background())
	if err != nil {
		panic(err)
	}
	return state
}

// IsActive returns true while a call is ringing, connecting or connected.
func (m *Machine) IsActive() bool {
	return m.MustState().IsActive()
}

// IsInCall returns true once media has been committed to.
func (m *Machine) IsInCall() bool {
	return m.MustState().IsInCall()
}
