package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMachine(t *testing.T) {
	m := NewMachine()
	require.NotNil(t, m)

	state, err := m.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
	assert.False(t, m.IsActive())
}

func TestMachine_OutgoingFlow(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	// Dial -> Connecting, no ringing phase on the caller
	err := m.Fire(ctx, TriggerDial)
	require.NoError(t, err)
	state, _ := m.State(ctx)
	assert.Equal(t, StateConnecting, state)
	assert.True(t, m.IsInCall())

	// Remote participant joined -> Connected
	err = m.Fire(ctx, TriggerRemoteJoined)
	require.NoError(t, err)
	state, _ = m.State(ctx)
	assert.Equal(t, StateConnected, state)

	// Hangup -> Ended
	err = m.Fire(ctx, TriggerHangup)
	require.NoError(t, err)
	state, _ = m.State(ctx)
	assert.Equal(t, StateEnded, state)
	assert.False(t, m.IsActive())
}

func TestMachine_IncomingAnswerFlow(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	require.NoError(t, m.Fire(ctx, TriggerIncoming))
	state, _ := m.State(ctx)
	assert.Equal(t, StateRinging, state)
	assert.True(t, m.IsActive())
	assert.False(t, m.IsInCall())

	require.NoError(t, m.Fire(ctx, TriggerAnswer))
	state, _ = m.State(ctx)
	assert.Equal(t, StateConnecting, state)

	require.NoError(t, m.Fire(ctx, TriggerRemoteJoined))
	state, _ = m.State(ctx)
	assert.Equal(t, StateConnected, state)
}

func TestMachine_Decline(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	_ = m.Fire(ctx, TriggerIncoming)
	require.NoError(t, m.Fire(ctx, TriggerDecline))
	state, _ := m.State(ctx)
	assert.Equal(t, StateRejected, state)

	require.NoError(t, m.Fire(ctx, TriggerReset))
	state, _ = m.State(ctx)
	assert.Equal(t, StateIdle, state)
}

func TestMachine_RemoteTerminalOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		setup   []Trigger
		trigger Trigger
		want    State
	}{
		{"caller hangs up before answer", []Trigger{TriggerIncoming}, TriggerRemoteEnded, StateMissed},
		{"rejected on another device", []Trigger{TriggerIncoming}, TriggerRemoteRejected, StateRejected},
		{"ring timeout on callee", []Trigger{TriggerIncoming}, TriggerRingTimeout, StateMissed},
		{"callee rejects outgoing", []Trigger{TriggerDial}, TriggerRemoteRejected, StateRejected},
		{"callee never answers", []Trigger{TriggerDial}, TriggerRingTimeout, StateMissed},
		{"remote ends while answering", []Trigger{TriggerIncoming, TriggerAnswer}, TriggerRemoteEnded, StateEnded},
		{"remote ends connected call", []Trigger{TriggerDial, TriggerRemoteJoined}, TriggerRemoteEnded, StateEnded},
		{"media left", []Trigger{TriggerDial, TriggerRemoteJoined}, TriggerMediaLeft, StateEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMachine()
			for _, trig := range tt.setup {
				require.NoError(t, m.Fire(ctx, trig))
			}

			require.NoError(t, m.Fire(ctx, tt.trigger))
			state, _ := m.State(ctx)
			assert.Equal(t, tt.want, state)
			assert.True(t, state.IsTerminal())
		})
	}
}

func TestMachine_FailFromAnyActiveState(t *testing.T) {
	tests := []struct {
		name      string
		setup     []Trigger
		fromState State
	}{
		{"from ringing", []Trigger{TriggerIncoming}, StateRinging},
		{"from connecting", []Trigger{TriggerDial}, StateConnecting},
		{"from connected", []Trigger{TriggerDial, TriggerRemoteJoined}, StateConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMachine()
			for _, trig := range tt.setup {
				_ = m.Fire(ctx, trig)
			}

			state, _ := m.State(ctx)
			assert.Equal(t, tt.fromState, state)

			require.NoError(t, m.Fire(ctx, TriggerFail))
			state, _ = m.State(ctx)
			assert.Equal(t, StateFailed, state)
		})
	}
}

func TestMachine_NewCallFromTerminalState(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	_ = m.Fire(ctx, TriggerDial)
	_ = m.Fire(ctx, TriggerFail)

	require.NoError(t, m.Fire(ctx, TriggerIncoming))
	state, _ := m.State(ctx)
	assert.Equal(t, StateRinging, state)
}

func TestMachine_InvalidTransition(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	// Cannot claim connected without a call
	canJoin, err := m.CanFire(ctx, TriggerRemoteJoined)
	require.NoError(t, err)
	assert.False(t, canJoin)

	err = m.Fire(ctx, TriggerRemoteJoined)
	assert.Error(t, err)

	// Terminal states do not resurrect
	_ = m.Fire(ctx, TriggerDial)
	_ = m.Fire(ctx, TriggerHangup)
	canAnswer, err := m.CanFire(ctx, TriggerAnswer)
	require.NoError(t, err)
	assert.False(t, canAnswer)

	// Dialing while busy is not a transition
	_ = m.Fire(ctx, TriggerDial)
	canDial, err := m.CanFire(ctx, TriggerDial)
	require.NoError(t, err)
	assert.False(t, canDial)
}

func TestMachine_ResetInIdleIsIgnored(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	called := false
	m.OnTransition(func(ctx context.Context, from, to State, trigger Trigger) {
		called = true
	})

	require.NoError(t, m.Fire(ctx, TriggerReset))
	assert.False(t, called)
	assert.Equal(t, StateIdle, m.MustState())
}

func TestMachine_OnTransitionCallback(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	var transitions []struct {
		from    State
		to      State
		trigger Trigger
	}

	m.OnTransition(func(ctx context.Context, from, to State, trigger Trigger) {
		transitions = append(transitions, struct {
			from    State
			to      State
			trigger Trigger
		}{from, to, trigger})
	})

	_ = m.Fire(ctx, TriggerIncoming)
	_ = m.Fire(ctx, TriggerAnswer)
	_ = m.Fire(ctx, TriggerRemoteJoined)

	assert.Len(t, transitions, 3)
	assert.Equal(t, StateIdle, transitions[0].from)
	assert.Equal(t, StateRinging, transitions[0].to)
	assert.Equal(t, TriggerIncoming, transitions[0].trigger)
	assert.Equal(t, StateConnected, transitions[2].to)
}

func TestState_Predicates(t *testing.T) {
	assert.True(t, StateRinging.IsActive())
	assert.False(t, StateRinging.IsInCall())
	assert.True(t, StateConnected.IsInCall())
	assert.False(t, StateIdle.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateFailed.IsActive())
}
