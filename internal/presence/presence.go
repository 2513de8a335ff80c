// Package presence tracks which users currently have a running coordinator,
// so callers know when a push wake is needed.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Presence is the last known reachability of a user.
type Presence struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Tracker records heartbeats and answers reachability lookups.
type Tracker interface {
	Heartbeat(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Lookup(ctx context.Context, userID string) (Presence, error)
}

// Memory is an in-process tracker. A user is online while their last
// heartbeat is younger than the TTL.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	seen    map[string]time.Time
	offline map[string]bool
}

// NewMemory creates an in-process tracker.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		seen:    make(map[string]time.Time),
		offline: make(map[string]bool),
	}
}

func (m *Memory) Heartbeat(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[userID] = m.now()
	delete(m.offline, userID)
	return nil
}

func (m *Memory) SetOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[userID] = m.now()
	m.offline[userID] = true
	return nil
}

func (m *Memory) Lookup(_ context.Context, userID string) (Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := Presence{UserID: userID}
	seen, ok := m.seen[userID]
	if !ok {
		return p, nil
	}
	p.LastSeen = seen
	p.Online = !m.offline[userID] && m.now().Sub(seen) < m.ttl
	return p, nil
}

// RunHeartbeat refreshes userID's presence every interval until ctx ends,
// then marks the user offline.
func RunHeartbeat(ctx context.Context, t Tracker, userID string, interval time.Duration) {
	log := slog.Default().With("component", "presence")

	if err := t.Heartbeat(ctx, userID); err != nil {
		log.Warn("presence heartbeat failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := t.SetOffline(offCtx, userID); err != nil {
				log.Warn("failed to mark offline", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := t.Heartbeat(ctx, userID); err != nil {
				log.Warn("presence heartbeat failed", "error", err)
			}
		}
	}
}
