package coordinator

import (
	"reflect"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
)

// IncomingCall is the read-only view of a ringing call. Missing lists the
// details that have not arrived yet.
type IncomingCall struct {
	CallID            string    `json:"call_id"`
	CallerID          string    `json:"caller_id,omitempty"`
	CallerDisplayName string    `json:"caller_display_name,omitempty"`
	CallType          call.Type `json:"call_type,omitempty"`
	SessionAddress    string    `json:"session_address,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	Missing           []string  `json:"missing,omitempty"`
	Sources           string    `json:"sources"`
}

// OutgoingCall is the read-only view of a call this device placed.
type OutgoingCall struct {
	CallID            string    `json:"call_id"`
	TargetUserID      string    `json:"target_user_id"`
	TargetDisplayName string    `json:"target_display_name,omitempty"`
	CallType          call.Type `json:"call_type"`
	SessionAddress    string    `json:"session_address,omitempty"`
}

// CallState is the observable local call state.
type CallState struct {
	Phase           state.State   `json:"phase"`
	CallID          string        `json:"call_id,omitempty"`
	Incoming        *IncomingCall `json:"incoming_call,omitempty"`
	Outgoing        *OutgoingCall `json:"outgoing_call,omitempty"`
	Answering       *call.Record  `json:"answering_call,omitempty"`
	AwaitingDetails bool          `json:"awaiting_details,omitempty"`
	Muted           bool          `json:"muted"`
	Minimized       bool          `json:"minimized"`
	Error           string        `json:"error,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsCallActive reports whether a call is ringing, connecting or connected.
func (s CallState) IsCallActive() bool {
	return s.Phase.IsActive()
}

// IsInActiveCall reports whether the user has committed to media.
func (s CallState) IsInActiveCall() bool {
	return s.Phase.IsInCall()
}

func sameState(a, b CallState) bool {
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

// buildState captures the loop-owned fields. Only called from the loop.
func (c *Coordinator) buildState() CallState {
	s := CallState{
		Phase:     c.sm.MustState(),
		Muted:     c.muted,
		Minimized: c.minimized,
		Error:     c.lastError,
		UpdatedAt: c.deps.Clock.Now(),
	}
	if c.cur != nil {
		s.CallID = c.cur.callID
		s.AwaitingDetails = c.cur.answerPending
	}
	if p := c.incoming; p != nil {
		s.Incoming = &IncomingCall{
			CallID:            p.CallID,
			CallerID:          p.CallerID.Value(),
			CallerDisplayName: p.DisplayName(),
			CallType:          p.CallType.Value(),
			SessionAddress:    p.SessionAddress.Value(),
			StartedAt:         p.StartedAt.Value(),
			Missing:           p.Missing(),
			Sources:           p.Sources.String(),
		}
	}
	if o := c.outgoing; o != nil {
		out := *o
		s.Outgoing = &out
	}
	if a := c.answering; a != nil {
		rec := *a
		s.Answering = &rec
	}
	return s
}
