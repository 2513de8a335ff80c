// Package store provides persistence for call records, relay signals, the
// pending incoming call slot and the local phase history.
package store

import (
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/state"
)

// Transition represents a state machine transition record.
type Transition struct {
	ID        int64       `json:"id"`
	CallID    string      `json:"call_id,omitempty"`
	FromState state.State `json:"from_state"`
	ToState   state.State `json:"to_state"`
	Trigger   string      `json:"trigger"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// Session is the last phase persisted by the coordinator.
type Session struct {
	State     state.State `json:"state"`
	CallID    string      `json:"call_id,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}
