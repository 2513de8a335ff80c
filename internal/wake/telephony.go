// Package wake covers everything that reaches the user outside the call
// screen: the system telephony surface, local ring alerts and push wakes.
package wake

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Action is a user action taken on the system telephony surface.
type Action int

const (
	ActionAnswer Action = iota
	ActionEnd
	ActionMute
)

func (a Action) String() string {
	switch a {
	case ActionAnswer:
		return "answer"
	case ActionEnd:
		return "end"
	case ActionMute:
		return "mute"
	default:
		return "unknown"
	}
}

// ParseAction converts a wire name to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "answer":
		return ActionAnswer, nil
	case "end":
		return ActionEnd, nil
	case "mute":
		return ActionMute, nil
	default:
		return 0, errors.New("unknown telephony action: " + s)
	}
}

// TelephonyEvent is emitted when the user acts on the system call UI.
type TelephonyEvent struct {
	Action Action
	CallID string
	Muted  bool
}

// Telephony is the native call surface (lock-screen incoming call UI).
type Telephony interface {
	ShowIncomingCall(ctx context.Context, callID, callerName string, isVideo bool) error
	ReportConnected(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string) error
	Events() <-chan TelephonyEvent
}

// CallStatus is what the headless surface currently shows for a call.
type CallStatus string

const (
	CallShown     CallStatus = "shown"
	CallConnected CallStatus = "connected"
)

// HeadlessTelephony keeps the surface state in memory and accepts user
// actions through Emit.
type HeadlessTelephony struct {
	mu     sync.Mutex
	calls  map[string]CallStatus
	events chan TelephonyEvent
	log    *slog.Logger
}

func NewHeadlessTelephony() *HeadlessTelephony {
	return &HeadlessTelephony{
		calls:  make(map[string]CallStatus),
		events: make(chan TelephonyEvent, 16),
		log:    slog.Default().With("component", "telephony"),
	}
}

func (t *HeadlessTelephony) ShowIncomingCall(_ context.Context, callID, callerName string, isVideo bool) error {
	t.mu.Lock()
	t.calls[callID] = CallShown
	t.mu.Unlock()

	t.log.Info("incoming call shown", "call_id", callID, "caller", callerName, "video", isVideo)
	return nil
}

func (t *HeadlessTelephony) ReportConnected(_ context.Context, callID string) error {
	t.mu.Lock()
	t.calls[callID] = CallConnected
	t.mu.Unlock()
	return nil
}

// EndCall removes the call. Unknown ids are ignored.
func (t *HeadlessTelephony) EndCall(_ context.Context, callID string) error {
	t.mu.Lock()
	delete(t.calls, callID)
	t.mu.Unlock()
	return nil
}

func (t *HeadlessTelephony) Events() <-chan TelephonyEvent {
	return t.events
}

// Emit delivers a user action to the coordinator.
func (t *HeadlessTelephony) Emit(evt TelephonyEvent) bool {
	select {
	case t.events <- evt:
		return true
	default:
		t.log.Warn("telephony event channel full, dropping action", "action", evt.Action, "call_id", evt.CallID)
		return false
	}
}

// Status returns what the surface shows for callID.
func (t *HeadlessTelephony) Status(callID string) (CallStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.calls[callID]
	return s, ok
}
