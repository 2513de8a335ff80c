// Package health tracks coordinator liveness and call outcome counters.
package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/state"
)

// Status represents the health status of the coordinator.
type Status struct {
	Phase          string    `json:"phase"`
	InCall         bool      `json:"in_call"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	LastTransition time.Time `json:"last_transition,omitempty"`
	CallsStarted   int64     `json:"calls_started"`
	CallsConnected int64     `json:"calls_connected"`
	CallsEnded     int64     `json:"calls_ended"`
	CallsRejected  int64     `json:"calls_rejected"`
	CallsMissed    int64     `json:"calls_missed"`
	CallsFailed    int64     `json:"calls_failed"`
}

// Source is the observed phase machine. *coordinator.Coordinator satisfies it.
type Source interface {
	Phase() state.State
	OnTransition(cb state.TransitionCallback)
}

// Monitor counts call outcomes from phase transitions.
type Monitor struct {
	source Source
	log    *slog.Logger

	startTime      time.Time
	lastTransition time.Time
	mu             sync.RWMutex

	started   atomic.Int64
	connected atomic.Int64
	ended     atomic.Int64
	rejected  atomic.Int64
	missed    atomic.Int64
	failed    atomic.Int64
}

// NewMonitor creates a monitor and subscribes it to src's transitions.
func NewMonitor(src Source) *Monitor {
	m := &Monitor{
		source:    src,
		log:       slog.Default().With("component", "health"),
		startTime: time.Now(),
	}
	src.OnTransition(m.observe)
	return m
}

// Start resets the uptime clock.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	m.log.Info("health monitor started")
}

func (m *Monitor) observe(_ context.Context, from, to state.State, _ state.Trigger) {
	m.mu.Lock()
	m.lastTransition = time.Now()
	m.mu.Unlock()

	if !from.IsActive() && to.IsActive() {
		m.started.Add(1)
	}

	switch to {
	case state.StateConnected:
		m.connected.Add(1)
	case state.StateEnded:
		m.ended.Add(1)
	case state.StateRejected:
		m.rejected.Add(1)
	case state.StateMissed:
		m.missed.Add(1)
	case state.StateFailed:
		m.failed.Add(1)
	}
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	phase := m.source.Phase()

	return Status{
		Phase:          string(phase),
		InCall:         phase.IsInCall(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		LastTransition: m.lastTransition,
		CallsStarted:   m.started.Load(),
		CallsConnected: m.connected.Load(),
		CallsEnded:     m.ended.Load(),
		CallsRejected:  m.rejected.Load(),
		CallsMissed:    m.missed.Load(),
		CallsFailed:    m.failed.Load(),
	}
}

// GetLastTransitionTime returns the time of the last phase change.
func (m *Monitor) GetLastTransitionTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTransition
}
