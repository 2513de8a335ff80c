package wake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
)

// SnapshotSaver persists the pending incoming call.
type SnapshotSaver interface {
	Save(ctx context.Context, snap call.PendingSnapshot) error
}

// Receiver yields pushes for one user. Receive returns (nil, nil) on an idle
// poll.
type Receiver interface {
	Receive(ctx context.Context, userID string, timeout time.Duration) (*Push, error)
}

// Bridge handles a wake push received while the coordinator may not be
// running: it persists the call for later recovery and shows the system
// incoming-call UI.
type Bridge struct {
	pending   SnapshotSaver
	telephony Telephony
	now       func() time.Time
	log       *slog.Logger
	live      func() bool
}

func NewBridge(pending SnapshotSaver, telephony Telephony) *Bridge {
	return &Bridge{
		pending:   pending,
		telephony: telephony,
		now:       time.Now,
		log:       slog.Default().With("component", "wake"),
	}
}

// SkipWhile makes Run drop pushes while live reports true. A running
// coordinator sees the call through its own feeds.
func (b *Bridge) SkipWhile(live func() bool) {
	b.live = live
}

// HandleWakePush saves the pending snapshot before showing the call, so an
// answer from the system UI always finds it.
func (b *Bridge) HandleWakePush(ctx context.Context, p Push) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if err := b.pending.Save(ctx, p.Snapshot(b.now())); err != nil {
		return fmt.Errorf("failed to save pending call: %w", err)
	}

	name := p.CallerDisplayName
	if name == "" {
		name = p.CallerID
	}
	if err := b.telephony.ShowIncomingCall(ctx, p.CallID, name, p.CallType.IsVideo()); err != nil {
		return fmt.Errorf("failed to show incoming call: %w", err)
	}

	b.log.Info("wake push handled", "call_id", p.CallID, "caller", p.CallerID)
	return nil
}

// Run consumes pushes for userID until ctx ends. Receive errors are retried
// with exponential backoff.
func (b *Bridge) Run(ctx context.Context, rx Receiver, userID string, poll time.Duration) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for ctx.Err() == nil {
		p, err := rx.Receive(ctx, userID, poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := bo.NextBackOff()
			b.log.Warn("push receive failed", "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		bo.Reset()

		if p == nil {
			continue
		}
		if b.live != nil && b.live() {
			b.log.Debug("coordinator running, dropping wake push", "call_id", p.CallID)
			continue
		}
		if err := b.HandleWakePush(ctx, *p); err != nil {
			b.log.Error("failed to handle wake push", "call_id", p.CallID, "error", err)
		}
	}
}
