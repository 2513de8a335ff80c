package coordinator

import (
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
)

// EventType is the kind of message processed by the coordinator loop.
type EventType int

const (
	EventStartCall EventType = iota
	EventAnswerCall
	EventRejectCall
	EventEndCall
	EventSetMuted
	EventSetMinimized
	EventReset
	EventRecordChange
	EventSignal
	EventSnapshot
	EventRecordFetched
	EventMedia
	EventMediaCreated
	EventTelephony
	EventTimer
	EventOpFailed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStartCall:
		return "start_call"
	case EventAnswerCall:
		return "answer_call"
	case EventRejectCall:
		return "reject_call"
	case EventEndCall:
		return "end_call"
	case EventSetMuted:
		return "set_muted"
	case EventSetMinimized:
		return "set_minimized"
	case EventReset:
		return "reset"
	case EventRecordChange:
		return "record_change"
	case EventSignal:
		return "signal"
	case EventSnapshot:
		return "snapshot"
	case EventRecordFetched:
		return "record_fetched"
	case EventMedia:
		return "media"
	case EventMediaCreated:
		return "media_created"
	case EventTelephony:
		return "telephony"
	case EventTimer:
		return "timer"
	case EventOpFailed:
		return "op_failed"
	default:
		return "unknown"
	}
}

// Event is one message on the coordinator queue.
type Event struct {
	Type      EventType
	Payload   interface{}
	Timestamp time.Time
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(t EventType, payload interface{}) Event {
	return Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// StartRequest describes an outgoing call.
type StartRequest struct {
	TargetUserID      string    `json:"target_user_id"`
	TargetDisplayName string    `json:"target_display_name,omitempty"`
	CallType          call.Type `json:"call_type"`
}

type startPayload struct {
	req   StartRequest
	reply chan error
}

type resolvePayload struct {
	callID string
	source string
	reply  chan error
}

type mutePayload struct {
	toggle bool
	muted  bool
	reply  chan error
}

type minimizePayload struct {
	minimized bool
	reply     chan error
}

type replyPayload struct {
	reply chan error
}

type recordFetched struct {
	callID string
	rec    *call.Record
	err    error
}

type mediaCreated struct {
	callID string
	handle media.Handle
}

type opFailed struct {
	callID string
	op     string
	err    error
}

type timerKind int

const (
	timerRing timerKind = iota
	timerAnswerWait
	timerConnect
)

func (k timerKind) String() string {
	switch k {
	case timerRing:
		return "ring"
	case timerAnswerWait:
		return "answer_wait"
	case timerConnect:
		return "connect"
	default:
		return "unknown"
	}
}

type timerFired struct {
	kind   timerKind
	callID string
	seq    uint64
}

// Sources of answer and reject actions, for logs.
const (
	SourceUI        = "ui"
	SourceTelephony = "telephony"
)
