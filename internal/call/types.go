// Package call defines the call domain shared by the coordinator, the record
// store and the signal relay.
package call

import (
	"fmt"
)

// Type is the media kind of a call.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeVoice
	TypeVideo
)

var typeNames = [...]string{
	TypeUnknown: "",
	TypeVoice:   "voice",
	TypeVideo:   "video",
}

// String returns the wire name of the call type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return ""
}

// IsVideo reports whether the call carries video.
func (t Type) IsVideo() bool {
	return t == TypeVideo
}

// ParseType parses a wire call type.
func ParseType(s string) (Type, error) {
	switch s {
	case "voice", "audio":
		return TypeVoice, nil
	case "video":
		return TypeVideo, nil
	default:
		return TypeUnknown, fmt.Errorf("unknown call type %q", s)
	}
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = TypeUnknown
		return nil
	}
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Status is the shared lifecycle status of a call record.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusRinging
	StatusConnected
	StatusEnded
	StatusRejected
	StatusMissed
)

var statusNames = [...]string{
	StatusUnknown:   "",
	StatusRinging:   "ringing",
	StatusConnected: "connected",
	StatusEnded:     "ended",
	StatusRejected:  "rejected",
	StatusMissed:    "missed",
}

// statusTransitions lists the forward moves a record may make.
// Terminal statuses have no entry.
var statusTransitions = map[Status][]Status{
	StatusRinging:   {StatusConnected, StatusEnded, StatusRejected, StatusMissed},
	StatusConnected: {StatusEnded},
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return ""
}

// IsTerminal returns true for statuses that end the call.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusMissed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a record in status s may be moved to next.
// Writing the current status again is allowed and treated as a no-op.
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusUnknown {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus parses a wire record status.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name != "" && name == s {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown call status %q", s)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = StatusUnknown
		return nil
	}
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SignalType is the kind of payload carried by a relay signal.
type SignalType uint8

const (
	SignalUnknown SignalType = iota
	SignalOffer
)

func (t SignalType) String() string {
	if t == SignalOffer {
		return "offer"
	}
	return ""
}

// ParseSignalType parses a wire signal type.
func ParseSignalType(s string) (SignalType, error) {
	if s == "offer" {
		return SignalOffer, nil
	}
	return SignalUnknown, fmt.Errorf("unknown signal type %q", s)
}

func (t SignalType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SignalType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = SignalUnknown
		return nil
	}
	parsed, err := ParseSignalType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
