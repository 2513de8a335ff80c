package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
)

type session struct {
	callType call.Type
	address  string
	joined   bool
	muted    bool
}

// Headless is an Engine for deployments where the media stack runs outside
// this process. It allocates room addresses and relays participant events
// reported through Report.
type Headless struct {
	mu       sync.Mutex
	sessions map[Handle]*session
	events   chan Event
	log      *slog.Logger
}

func NewHeadless() *Headless {
	return &Headless{
		sessions: make(map[Handle]*session),
		events:   make(chan Event, 64),
		log:      slog.Default().With("component", "media"),
	}
}

func (h *Headless) Create(_ context.Context, callType call.Type) (Handle, error) {
	handle := Handle("media-" + uuid.NewString())

	h.mu.Lock()
	h.sessions[handle] = &session{callType: callType}
	h.mu.Unlock()

	h.log.Debug("media session created", "handle", handle, "call_type", callType)
	return handle, nil
}

func (h *Headless) Join(_ context.Context, handle Handle, address string) error {
	h.mu.Lock()
	s, ok := h.sessions[handle]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	if s.joined {
		h.mu.Unlock()
		return fmt.Errorf("media session %s already joined", handle)
	}
	if address == "" {
		address = "room-" + uuid.NewString()
	}
	s.address = address
	s.joined = true
	h.mu.Unlock()

	h.emit(Event{Kind: EventJoined, Handle: handle, Address: address})
	return nil
}

func (h *Headless) Leave(_ context.Context, handle Handle) error {
	h.mu.Lock()
	s, ok := h.sessions[handle]
	delete(h.sessions, handle)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	if s.joined {
		h.emit(Event{Kind: EventLeft, Handle: handle, Address: s.address})
	}
	return nil
}

func (h *Headless) SetMuted(_ context.Context, handle Handle, muted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	s.muted = muted
	return nil
}

func (h *Headless) Events() <-chan Event {
	return h.events
}

// Report injects an event observed by the external media stack, such as the
// remote participant joining.
func (h *Headless) Report(evt Event) error {
	h.mu.Lock()
	_, ok := h.sessions[evt.Handle]
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, evt.Handle)
	}
	h.emit(evt)
	return nil
}

// Sessions returns the handles that have not been released.
func (h *Headless) Sessions() []Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	handles := make([]Handle, 0, len(h.sessions))
	for handle := range h.sessions {
		handles = append(handles, handle)
	}
	return handles
}

func (h *Headless) emit(evt Event) {
	select {
	case h.events <- evt:
	default:
		h.log.Warn("media event channel full, dropping event", "kind", evt.Kind, "handle", evt.Handle)
	}
}
