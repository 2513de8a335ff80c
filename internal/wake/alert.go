package wake

import (
	"context"
	"log/slog"
	"sync"
)

// Alerter plays the local ring for an incoming call.
type Alerter interface {
	StartAlert(ctx context.Context, callID, callerName string) error
	CancelAlert(ctx context.Context, callID string) error
}

// LogAlerter records alerts in the log and keeps the set of ringing calls.
type LogAlerter struct {
	mu      sync.Mutex
	ringing map[string]bool
	log     *slog.Logger
}

func NewLogAlerter() *LogAlerter {
	return &LogAlerter{
		ringing: make(map[string]bool),
		log:     slog.Default().With("component", "alert"),
	}
}

func (a *LogAlerter) StartAlert(_ context.Context, callID, callerName string) error {
	a.mu.Lock()
	a.ringing[callID] = true
	a.mu.Unlock()

	a.log.Info("ringing", "call_id", callID, "caller", callerName)
	return nil
}

// CancelAlert stops the ring. Cancelling an unknown alert is a no-op.
func (a *LogAlerter) CancelAlert(_ context.Context, callID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ringing[callID] {
		delete(a.ringing, callID)
		a.log.Info("ring cancelled", "call_id", callID)
	}
	return nil
}

// Ringing reports whether callID is still alerting.
func (a *LogAlerter) Ringing(callID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ringing[callID]
}
