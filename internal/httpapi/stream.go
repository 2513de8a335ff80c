package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ihiteshgupta/call-coordinator/internal/coordinator"
	"github.com/ihiteshgupta/call-coordinator/pkg/logger"
)

const (
	streamBuffer  = 16
	writeDeadline = 5 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI shell connects from a local webview.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans call state changes out to websocket subscribers. Register Publish
// with Coordinator.OnStateChange.
type Hub struct {
	mu   sync.Mutex
	subs map[chan coordinator.CallState]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan coordinator.CallState]struct{})}
}

// Subscribe returns a channel receiving every published state.
func (h *Hub) Subscribe() chan coordinator.CallState {
	ch := make(chan coordinator.CallState, streamBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan coordinator.CallState) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Publish never blocks. A subscriber with a full buffer misses the update and
// catches up on the next one.
func (h *Hub) Publish(s coordinator.CallState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Subscribers reports the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Events upgrades to a websocket and streams call state: the current state
// first, then every change until the client goes away.
func (h Handlers) Events(c *gin.Context) {
	log := logger.FromGin(c)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates := h.Stream.Subscribe()
	defer h.Stream.Unsubscribe(updates)

	// Reads only detect the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(s coordinator.CallState) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(s); err != nil {
			log.Debug("call state stream closed", "error", err)
			return false
		}
		return true
	}

	if !send(h.Calls.State()) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case s := <-updates:
			if !send(s) {
				return
			}
		}
	}
}
