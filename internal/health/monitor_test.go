package health

import (
	"context"
	"testing"

	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type machineSource struct {
	*state.Machine
}

func (m machineSource) Phase() state.State {
	return m.MustState()
}

func newSource() machineSource {
	return machineSource{Machine: state.NewMachine()}
}

func fire(t *testing.T, src machineSource, triggers ...state.Trigger) {
	t.Helper()
	for _, tr := range triggers {
		require.NoError(t, src.Fire(context.Background(), tr))
	}
}

func TestMonitor_GetStatus(t *testing.T) {
	src := newSource()
	m := NewMonitor(src)
	m.Start()

	status := m.GetStatus()

	assert.Equal(t, string(state.StateIdle), status.Phase)
	assert.False(t, status.InCall)
	assert.GreaterOrEqual(t, status.UptimeSeconds, int64(0))
	assert.True(t, status.LastTransition.IsZero())
}

func TestMonitor_CountsOutcomes(t *testing.T) {
	src := newSource()
	m := NewMonitor(src)

	// Answered incoming call that ends normally.
	fire(t, src, state.TriggerIncoming, state.TriggerAnswer, state.TriggerRemoteJoined)
	status := m.GetStatus()
	assert.Equal(t, string(state.StateConnected), status.Phase)
	assert.True(t, status.InCall)
	fire(t, src, state.TriggerHangup)

	// Declined incoming call.
	fire(t, src, state.TriggerIncoming, state.TriggerDecline, state.TriggerReset)

	// Outgoing call nobody picks up.
	fire(t, src, state.TriggerDial, state.TriggerRingTimeout)

	// Outgoing call that fails.
	fire(t, src, state.TriggerDial, state.TriggerFail)

	status = m.GetStatus()
	assert.Equal(t, int64(4), status.CallsStarted)
	assert.Equal(t, int64(1), status.CallsConnected)
	assert.Equal(t, int64(1), status.CallsEnded)
	assert.Equal(t, int64(1), status.CallsRejected)
	assert.Equal(t, int64(1), status.CallsMissed)
	assert.Equal(t, int64(1), status.CallsFailed)
	assert.Equal(t, string(state.StateFailed), status.Phase)
	assert.False(t, m.GetLastTransitionTime().IsZero())
}
