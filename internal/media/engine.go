// Package media abstracts the real-time media session a call joins.
package media

import (
	"context"
	"errors"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
)

// ErrUnknownHandle is returned for operations on a handle that was never
// created or has already been released.
var ErrUnknownHandle = errors.New("unknown media handle")

// Handle identifies one media session owned by the coordinator.
type Handle string

// EventKind is the type of a media session event.
type EventKind int

const (
	// EventJoined reports the local participant joined. Address is the
	// joinable session address.
	EventJoined EventKind = iota
	// EventLeft reports the local participant left or was disconnected.
	EventLeft
	EventRemoteJoined
	EventRemoteLeft
	EventLocalTrackReady
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventRemoteJoined:
		return "remote_joined"
	case EventRemoteLeft:
		return "remote_left"
	case EventLocalTrackReady:
		return "local_track_ready"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseEventKind converts a wire name to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	for k := EventJoined; k <= EventError; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, errors.New("unknown media event: " + s)
}

// Event is one notification from the media engine.
type Event struct {
	Kind        EventKind
	Handle      Handle
	Address     string
	Participant string
	Err         error
}

// Engine creates, joins and releases media sessions.
type Engine interface {
	Create(ctx context.Context, callType call.Type) (Handle, error)
	// Join enters the session at address. An empty address hosts a new session
	// whose address is reported with EventJoined.
	Join(ctx context.Context, h Handle, address string) error
	Leave(ctx context.Context, h Handle) error
	SetMuted(ctx context.Context, h Handle, muted bool) error
	Events() <-chan Event
}
