package call

import (
	"errors"
	"time"
)

// ErrInvalidRecord is returned when a record or signal violates its write contract.
var ErrInvalidRecord = errors.New("invalid call record")

// Record is the durable, shared description of one call.
type Record struct {
	CallID            string     `json:"call_id"`
	CallerID          string     `json:"caller_id"`
	CalleeID          string     `json:"callee_id"`
	CallType          Type       `json:"call_type"`
	Status            Status     `json:"status"`
	SessionAddress    string     `json:"session_address,omitempty"`
	CallerDisplayName string     `json:"caller_display_name"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

// ValidateInsert checks the fields required to create a record.
func (r *Record) ValidateInsert() error {
	switch {
	case r.CallID == "":
		return errors.Join(ErrInvalidRecord, errors.New("call_id is required"))
	case r.CallerID == "" || r.CalleeID == "":
		return errors.Join(ErrInvalidRecord, errors.New("caller_id and callee_id are required"))
	case r.CallerID == r.CalleeID:
		return errors.Join(ErrInvalidRecord, errors.New("caller and callee must differ"))
	case r.CallType == TypeUnknown:
		return errors.Join(ErrInvalidRecord, errors.New("call_type is required"))
	case r.Status != StatusRinging:
		return errors.Join(ErrInvalidRecord, errors.New("new records must be ringing"))
	}
	return nil
}

// Involves reports whether userID is a participant of the call.
func (r *Record) Involves(userID string) bool {
	return r.CallerID == userID || r.CalleeID == userID
}

// Peer returns the other participant relative to self.
func (r *Record) Peer(self string) string {
	if r.CallerID == self {
		return r.CalleeID
	}
	return r.CallerID
}

// ChangeOp is the kind of row change observed on the record feed.
type ChangeOp uint8

const (
	ChangeInsert ChangeOp = iota + 1
	ChangeUpdate
)

func (op ChangeOp) String() string {
	switch op {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// RecordChange is one event on the record change feed.
type RecordChange struct {
	Op     ChangeOp
	Record Record
}

// SignalPayload is the data relayed ahead of the record.
type SignalPayload struct {
	SessionAddress    string `json:"session_address"`
	CallType          Type   `json:"call_type"`
	CallerDisplayName string `json:"caller_display_name"`
}

// Signal is an insert-only relay message between two users.
type Signal struct {
	CallID     string        `json:"call_id"`
	FromUserID string        `json:"from_user_id"`
	ToUserID   string        `json:"to_user_id"`
	Type       SignalType    `json:"signal_type"`
	Payload    SignalPayload `json:"payload"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Validate checks the relay write contract.
func (s *Signal) Validate() error {
	switch {
	case s.CallID == "":
		return errors.Join(ErrInvalidRecord, errors.New("signal call_id is required"))
	case s.FromUserID == "" || s.ToUserID == "":
		return errors.Join(ErrInvalidRecord, errors.New("signal sender and recipient are required"))
	case s.Type != SignalOffer:
		return errors.Join(ErrInvalidRecord, errors.New("unsupported signal type"))
	}
	return nil
}
