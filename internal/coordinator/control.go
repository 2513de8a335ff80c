package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
	"github.com/ihiteshgupta/call-coordinator/internal/wake"
)

// StartCall places an outgoing call. It returns ErrBusy, without changing
// state, when another call is active. Failures after the call is placed are
// reported through the failed phase.
func (c *Coordinator) StartCall(ctx context.Context, req StartRequest) error {
	reply := make(chan error, 1)
	return c.request(ctx, EventStartCall, startPayload{req: req, reply: reply}, reply)
}

// AnswerCall answers the ringing call. An empty callID means the current
// incoming call. Answering an already answered call is a no-op.
func (c *Coordinator) AnswerCall(ctx context.Context, callID string) error {
	reply := make(chan error, 1)
	return c.request(ctx, EventAnswerCall, resolvePayload{callID: callID, source: SourceUI, reply: reply}, reply)
}

// RejectCall declines the ringing call.
func (c *Coordinator) RejectCall(ctx context.Context, callID string) error {
	reply := make(chan error, 1)
	return c.request(ctx, EventRejectCall, resolvePayload{callID: callID, source: SourceUI, reply: reply}, reply)
}

// EndCall hangs up the current call. It is a no-op when no call is active.
func (c *Coordinator) EndCall(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, EventEndCall, replyPayload{reply: reply}, reply)
}

// SetMuted mutes or unmutes the local microphone.
func (c *Coordinator) SetMuted(ctx context.Context, muted bool) error {
	reply := make(chan error, 1)
	return c.request(ctx, EventSetMuted, mutePayload{muted: muted, reply: reply}, reply)
}

// ToggleMute flips the mute state and returns the new value.
func (c *Coordinator) ToggleMute(ctx context.Context) (bool, error) {
	reply := make(chan error, 1)
	if err := c.request(ctx, EventSetMuted, mutePayload{toggle: true, reply: reply}, reply); err != nil {
		return false, err
	}
	return c.State().Muted, nil
}

// Minimize hides the call screen while keeping the call running.
func (c *Coordinator) Minimize(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, EventSetMinimized, minimizePayload{minimized: true, reply: reply}, reply)
}

// ReturnToCall restores a minimized call's screen.
func (c *Coordinator) ReturnToCall(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, EventSetMinimized, minimizePayload{minimized: false, reply: reply}, reply)
}

// Reset tears down any call and clears all local call state. Used on
// sign-out.
func (c *Coordinator) Reset(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, EventReset, replyPayload{reply: reply}, reply)
}

// Activate is called when the app comes to the foreground. It recovers the
// pending incoming call saved by the wake bridge, consuming it exactly once,
// and re-reads ringing calls that may have been missed while inactive.
func (c *Coordinator) Activate(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}

	if c.deps.Pending != nil {
		opCtx, cancel := c.opContext(ctx)
		snap, err := c.deps.Pending.Take(opCtx)
		cancel()

		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return fmt.Errorf("failed to take pending call: %w", err)
		default:
			if err := c.recoverSnapshot(ctx, *snap); err != nil {
				return err
			}
		}
	}

	c.catchUp(ctx)
	return nil
}

// recoverSnapshot offers a pending call unless its record has already
// finished. A finished record is posted instead so later signals for the
// call are ignored.
func (c *Coordinator) recoverSnapshot(ctx context.Context, snap call.PendingSnapshot) error {
	opCtx, cancel := c.opContext(ctx)
	rec, err := c.deps.Records.Get(opCtx, snap.CallID)
	cancel()

	evt := NewEvent(EventSnapshot, snap)
	switch {
	case err == nil && rec.Status.IsTerminal():
		c.log.Info("discarding pending call that already finished", "call_id", snap.CallID, "status", rec.Status)
		evt = NewEvent(EventRecordFetched, recordFetched{callID: snap.CallID, rec: rec})
	case err != nil && !errors.Is(err, store.ErrNotFound):
		c.log.Warn("failed to check pending call record", "call_id", snap.CallID, "error", err)
	default:
		c.log.Info("recovered pending call", "call_id", snap.CallID)
	}

	if !c.post(ctx, evt) {
		return ErrStopped
	}
	return nil
}

func (r StartRequest) validate(self string) error {
	switch {
	case r.TargetUserID == "":
		return fmt.Errorf("%w: target user is required", ErrInvalidRequest)
	case r.TargetUserID == self:
		return fmt.Errorf("%w: cannot call yourself", ErrInvalidRequest)
	case r.CallType == call.TypeUnknown:
		return fmt.Errorf("%w: call type is required", ErrInvalidRequest)
	}
	return nil
}

func (c *Coordinator) handleStart(req StartRequest) error {
	if err := req.validate(c.opts.UserID); err != nil {
		return err
	}
	if phase := c.phase(); phase.IsActive() {
		c.log.Warn("start call ignored, call already active", "phase", phase, "target", req.TargetUserID)
		return ErrBusy
	}

	callID := c.deps.IDs.New()
	cur := c.beginCall(callID)

	name := req.TargetDisplayName
	if name == "" {
		name = req.TargetUserID
	}
	c.outgoing = &OutgoingCall{
		CallID:            callID,
		TargetUserID:      req.TargetUserID,
		TargetDisplayName: name,
		CallType:          req.CallType,
	}

	c.fire(state.TriggerDial, callID)
	c.startTimer(timerRing, c.opts.RingTimeout)

	out := *c.outgoing
	c.spawn(func() { c.placeCall(cur.ctx, out) })
	return nil
}

func (c *Coordinator) handleAnswer(callID, source string) error {
	if a := c.answering; a != nil && (callID == "" || callID == a.CallID) {
		c.log.Debug("answer ignored, call already answered", "call_id", a.CallID, "source", source)
		return nil
	}
	if c.incoming == nil || c.phase() != state.StateRinging {
		return ErrNoIncomingCall
	}
	id := c.incoming.CallID
	if callID != "" && callID != id {
		return ErrNoIncomingCall
	}
	if c.resolved[id] {
		c.log.Debug("answer ignored, call already resolved", "call_id", id, "source", source)
		return nil
	}
	c.resolved[id] = true
	c.log.Info("answering call", "call_id", id, "source", source)

	c.stopAlert()

	if _, err := c.incoming.Resolve(); err == nil {
		c.commitAnswer()
		return nil
	}

	// Details such as the session address may lag the record; wait for them.
	cur := c.cur
	cur.answerPending = true
	c.startTimer(timerAnswerWait, c.opts.AnswerWaitTimeout)

	pollCtx, cancel := context.WithCancel(cur.ctx)
	cur.pollCancel = cancel
	c.spawn(func() { c.pollRecord(pollCtx, id) })

	c.log.Info("answer pending call details", "call_id", id, "missing", c.incoming.Missing())
	return nil
}

func (c *Coordinator) handleReject(callID, source string) error {
	if a := c.answering; a != nil && (callID == "" || callID == a.CallID) {
		c.log.Debug("reject ignored, call already answered", "call_id", a.CallID, "source", source)
		return nil
	}
	if c.incoming == nil || c.phase() != state.StateRinging {
		return ErrNoIncomingCall
	}
	id := c.incoming.CallID
	if callID != "" && callID != id {
		return ErrNoIncomingCall
	}
	if c.resolved[id] {
		c.log.Debug("reject ignored, call already resolved", "call_id", id, "source", source)
		return nil
	}
	c.log.Info("rejecting call", "call_id", id, "source", source)
	c.decline(id)
	return nil
}

// decline ends a ringing incoming call and returns to idle.
func (c *Coordinator) decline(callID string) {
	c.resolved[callID] = true
	c.teardown(callID, state.TriggerDecline, call.StatusRejected, "")
	c.fire(state.TriggerReset, callID)
}

func (c *Coordinator) handleEnd() error {
	cur := c.cur
	if cur == nil {
		return nil
	}

	switch c.phase() {
	case state.StateRinging:
		c.decline(cur.callID)
	case state.StateConnecting, state.StateConnected:
		c.teardown(cur.callID, state.TriggerHangup, call.StatusEnded, "")
	}
	return nil
}

func (c *Coordinator) handleMute(toggle, muted bool) error {
	if !c.phase().IsInCall() {
		return ErrNoActiveCall
	}
	if toggle {
		muted = !c.muted
	}
	c.muted = muted
	c.applyMute()
	return nil
}

func (c *Coordinator) applyMute() {
	cur := c.cur
	if cur == nil || cur.handle == "" {
		return
	}
	handle, muted := cur.handle, c.muted
	c.background(func(ctx context.Context) {
		if err := c.deps.Media.SetMuted(ctx, handle, muted); err != nil {
			c.log.Warn("failed to set mute", "handle", handle, "error", err)
		}
	})
}

func (c *Coordinator) handleMinimize(minimized bool) error {
	if !c.phase().IsActive() {
		return ErrNoActiveCall
	}
	c.minimized = minimized
	return nil
}

func (c *Coordinator) handleReset() {
	if cur := c.cur; cur != nil {
		switch c.phase() {
		case state.StateRinging:
			c.teardown(cur.callID, state.TriggerDecline, call.StatusRejected, "")
		default:
			c.teardown(cur.callID, state.TriggerHangup, call.StatusEnded, "")
		}
	}
	c.fire(state.TriggerReset, "")

	c.resolved = make(map[string]bool)
	c.terminated = make(map[string]bool)
	c.released = make(map[media.Handle]bool)
	c.muted = false
	c.minimized = false
	c.lastError = ""
}

// handleTelephony funnels system call UI actions into the same paths as the
// in-app controls.
func (c *Coordinator) handleTelephony(evt wake.TelephonyEvent) {
	switch evt.Action {
	case wake.ActionAnswer:
		if err := c.handleAnswer(evt.CallID, SourceTelephony); err != nil {
			c.log.Warn("telephony answer ignored", "call_id", evt.CallID, "error", err)
		}
	case wake.ActionEnd:
		if c.cur == nil || (evt.CallID != "" && evt.CallID != c.cur.callID) {
			c.log.Debug("telephony end ignored", "call_id", evt.CallID)
			return
		}
		if err := c.handleEnd(); err != nil {
			c.log.Warn("telephony end failed", "call_id", evt.CallID, "error", err)
		}
	case wake.ActionMute:
		if err := c.handleMute(false, evt.Muted); err != nil {
			c.log.Warn("telephony mute ignored", "call_id", evt.CallID, "error", err)
		}
	}
}
