package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/ihiteshgupta/call-coordinator/internal/wake"
)

// placeCall writes the ringing record and hosts the media session. It runs
// off the loop; results come back as events.
func (c *Coordinator) placeCall(ctx context.Context, out OutgoingCall) {
	rec := &call.Record{
		CallID:            out.CallID,
		CallerID:          c.opts.UserID,
		CalleeID:          out.TargetUserID,
		CallType:          out.CallType,
		Status:            call.StatusRinging,
		CallerDisplayName: c.opts.DisplayName,
		StartedAt:         c.deps.Clock.Now().UTC(),
	}

	opCtx, cancel := c.opContext(ctx)
	err := c.deps.Records.Insert(opCtx, rec)
	cancel()
	if err != nil {
		c.failOp(ctx, out.CallID, "create call record", err)
		return
	}

	opCtx, cancel = c.opContext(ctx)
	handle, err := c.deps.Media.Create(opCtx, out.CallType)
	cancel()
	if err != nil {
		c.failOp(ctx, out.CallID, "create media session", err)
		return
	}
	// Hand the handle to the loop before joining so the joined event finds it.
	if !c.post(c.ctx, NewEvent(EventMediaCreated, mediaCreated{callID: out.CallID, handle: handle})) {
		return
	}

	opCtx, cancel = c.opContext(ctx)
	err = c.deps.Media.Join(opCtx, handle, "")
	cancel()
	if err != nil {
		c.failOp(ctx, out.CallID, "join media session", err)
		return
	}

	c.wakeCallee(ctx, rec)
}

// wakeCallee sends a push when the callee is not known to be online. The
// call proceeds either way.
func (c *Coordinator) wakeCallee(ctx context.Context, rec *call.Record) {
	if c.deps.Presence != nil {
		opCtx, cancel := c.opContext(ctx)
		p, err := c.deps.Presence.Lookup(opCtx, rec.CalleeID)
		cancel()
		if err != nil {
			c.log.Warn("presence lookup failed, sending wake push", "callee", rec.CalleeID, "error", err)
		} else if p.Online {
			return
		}
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	push := wake.Push{
		ToUserID:          rec.CalleeID,
		CallID:            rec.CallID,
		CallerID:          rec.CallerID,
		CallerDisplayName: rec.CallerDisplayName,
		CallType:          rec.CallType,
		SentAt:            rec.StartedAt,
	}
	if err := c.deps.Pusher.DeliverWake(opCtx, push); err != nil {
		c.log.Warn("wake push failed", "callee", rec.CalleeID, "call_id", rec.CallID, "error", err)
	}
}

// announce relays the session address to the callee, then records it.
func (c *Coordinator) announce(ctx context.Context, out OutgoingCall) {
	sig := &call.Signal{
		CallID:     out.CallID,
		FromUserID: c.opts.UserID,
		ToUserID:   out.TargetUserID,
		Type:       call.SignalOffer,
		Payload: call.SignalPayload{
			SessionAddress:    out.SessionAddress,
			CallType:          out.CallType,
			CallerDisplayName: c.opts.DisplayName,
		},
		CreatedAt: c.deps.Clock.Now().UTC(),
	}

	opCtx, cancel := c.opContext(ctx)
	err := c.deps.Signals.Publish(opCtx, sig)
	cancel()
	if err != nil {
		c.failOp(ctx, out.CallID, "send call signal", err)
		return
	}

	opCtx, cancel = c.opContext(ctx)
	_, err = c.deps.Records.SetSessionAddress(opCtx, out.CallID, out.SessionAddress)
	cancel()
	if err != nil {
		c.failOp(ctx, out.CallID, "update call record", err)
	}
}

// failOp reports a collaborator failure for callID. Errors after the call was
// torn down are expected and dropped.
func (c *Coordinator) failOp(ctx context.Context, callID, op string, err error) {
	if ctx.Err() != nil {
		c.log.Debug("operation aborted", "call_id", callID, "op", op, "error", err)
		return
	}
	c.post(c.ctx, NewEvent(EventOpFailed, opFailed{callID: callID, op: op, err: err}))
}

func (c *Coordinator) handleOpFailed(f opFailed) {
	cur := c.cur
	if cur == nil || cur.callID != f.callID {
		return
	}
	cause := fmt.Sprintf("failed to %s: %v", f.op, f.err)
	c.log.Error("call operation failed", "call_id", f.callID, "op", f.op, "error", f.err)
	c.teardown(f.callID, state.TriggerFail, call.StatusEnded, cause)
}

func (c *Coordinator) handleMediaCreated(m mediaCreated) {
	cur := c.cur
	if cur == nil || cur.callID != m.callID || cur.handle != "" {
		c.log.Debug("releasing media session for finished call", "call_id", m.callID, "handle", m.handle)
		c.releaseHandle(m.handle)
		return
	}
	cur.handle = m.handle
	if c.muted {
		c.applyMute()
	}
}

func (c *Coordinator) handleMediaEvent(evt media.Event) {
	cur := c.cur
	if cur == nil || cur.handle == "" || evt.Handle != cur.handle {
		c.log.Debug("ignoring media event", "kind", evt.Kind, "handle", evt.Handle)
		return
	}

	switch evt.Kind {
	case media.EventJoined:
		cur.address = evt.Address
		out := c.outgoing
		if out == nil || out.CallID != cur.callID || cur.signalSent || evt.Address == "" {
			return
		}
		cur.signalSent = true
		out.SessionAddress = evt.Address
		announced := *out
		c.spawn(func() { c.announce(cur.ctx, announced) })

	case media.EventRemoteJoined:
		if c.phase() != state.StateConnecting {
			return
		}
		c.stopTimer(timerRing)
		c.stopTimer(timerConnect)
		c.fire(state.TriggerRemoteJoined, cur.callID)

	case media.EventRemoteLeft:
		if c.phase() == state.StateConnected {
			c.teardown(cur.callID, state.TriggerMediaLeft, call.StatusEnded, "")
		}

	case media.EventLeft:
		c.teardown(cur.callID, state.TriggerMediaLeft, call.StatusEnded, "")

	case media.EventError:
		err := evt.Err
		if err == nil {
			err = errors.New("unknown media error")
		}
		c.teardown(cur.callID, state.TriggerFail, call.StatusEnded, fmt.Sprintf("media session error: %v", err))

	case media.EventLocalTrackReady:
		c.log.Debug("local media ready", "call_id", cur.callID)
	}
}

// remoteAnswered swaps the ring timeout for the connect timeout once the
// callee has accepted.
func (c *Coordinator) remoteAnswered(callID string) {
	cur := c.cur
	if cur == nil || cur.callID != callID || c.outgoing == nil || cur.remoteAnswered {
		return
	}
	if c.phase() != state.StateConnecting {
		return
	}
	cur.remoteAnswered = true
	c.stopTimer(timerRing)
	c.startTimer(timerConnect, c.opts.ConnectTimeout)
	c.log.Info("callee answered", "call_id", callID)
}
