package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
)

// teardown is the single exit path for a call. It is idempotent per call id
// and never waits on the remote party: local resources are released first,
// the record write is best effort, and the phase moves on regardless.
// A zero status skips the record write.
func (c *Coordinator) teardown(callID string, trigger state.Trigger, status call.Status, cause string) {
	cur := c.cur
	if cur == nil || cur.callID != callID {
		return
	}

	c.terminated[callID] = true
	c.resolved[callID] = true

	c.stopAllTimers()
	if cur.alertCancel != nil {
		cur.alertCancel()
	}
	cur.cancel()

	c.cancelAlert(callID)
	c.background(func(ctx context.Context) {
		if err := c.deps.Telephony.EndCall(ctx, callID); err != nil {
			c.log.Warn("failed to end telephony call", "call_id", callID, "error", err)
		}
	})
	if cur.handle != "" {
		c.releaseHandle(cur.handle)
	}
	if status != call.StatusUnknown {
		c.writeStatus(callID, status)
	}

	c.cur = nil
	c.incoming = nil
	c.outgoing = nil
	c.answering = nil
	c.muted = false
	c.minimized = false
	c.lastError = cause
	if cause != "" {
		c.log.Warn("call failed", "call_id", callID, "cause", cause)
	}

	if ok, _ := c.sm.CanFire(context.Background(), trigger); !ok {
		c.log.Warn("teardown trigger not permitted, failing call", "call_id", callID, "trigger", trigger, "phase", c.phase())
		trigger = state.TriggerFail
	}
	c.fire(trigger, callID)
}

// releaseHandle leaves a media session exactly once. Leave errors are logged
// and swallowed.
func (c *Coordinator) releaseHandle(h media.Handle) {
	if h == "" || c.released[h] {
		return
	}
	c.released[h] = true

	c.background(func(ctx context.Context) {
		if err := c.deps.Media.Leave(ctx, h); err != nil && !errors.Is(err, media.ErrUnknownHandle) {
			c.log.Warn("failed to leave media session", "handle", h, "error", err)
		}
	})
}

func (c *Coordinator) writeStatus(callID string, status call.Status) {
	c.background(func(ctx context.Context) {
		_, err := c.deps.Records.UpdateStatus(ctx, callID, status)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
			c.log.Debug("call record not updated", "call_id", callID, "status", status, "reason", err)
		default:
			c.log.Warn("failed to update call record", "call_id", callID, "status", status, "error", err)
		}
	})
}

func (c *Coordinator) startTimer(kind timerKind, d time.Duration) {
	cur := c.cur
	if cur == nil {
		return
	}
	c.stopTimer(kind)

	cur.timerSeq++
	fired := timerFired{kind: kind, callID: cur.callID, seq: cur.timerSeq}
	t := time.AfterFunc(d, func() {
		c.post(c.ctx, NewEvent(EventTimer, fired))
	})
	cur.timers[kind] = scheduled{timer: t, seq: fired.seq}
}

func (c *Coordinator) stopTimer(kind timerKind) {
	cur := c.cur
	if cur == nil {
		return
	}
	if s, ok := cur.timers[kind]; ok {
		s.timer.Stop()
		delete(cur.timers, kind)
	}
}

func (c *Coordinator) stopAllTimers() {
	cur := c.cur
	if cur == nil {
		return
	}
	for kind, s := range cur.timers {
		s.timer.Stop()
		delete(cur.timers, kind)
	}
}

func (c *Coordinator) handleTimer(t timerFired) {
	cur := c.cur
	if cur == nil || cur.callID != t.callID {
		return
	}
	s, ok := cur.timers[t.kind]
	if !ok || s.seq != t.seq {
		return
	}
	delete(cur.timers, t.kind)

	phase := c.phase()
	c.log.Info("call timer expired", "call_id", t.callID, "timer", t.kind, "phase", phase)

	switch t.kind {
	case timerRing:
		switch phase {
		case state.StateRinging:
			if cur.answerPending {
				return
			}
			c.teardown(t.callID, state.TriggerRingTimeout, call.StatusMissed, "")
		case state.StateConnecting:
			c.teardown(t.callID, state.TriggerRingTimeout, call.StatusMissed, "")
		}
	case timerAnswerWait:
		if cur.answerPending {
			c.teardown(t.callID, state.TriggerFail, call.StatusUnknown, "timed out waiting for call details")
		}
	case timerConnect:
		if phase == state.StateConnecting {
			c.teardown(t.callID, state.TriggerFail, call.StatusEnded, "timed out connecting media")
		}
	}
}
