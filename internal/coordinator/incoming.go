package coordinator

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
)

var errAddressPending = errors.New("session address not yet known")

func (c *Coordinator) handleRecordChange(rec call.Record) {
	self := c.opts.UserID
	if !rec.Involves(self) {
		return
	}

	if rec.Status.IsTerminal() {
		c.remoteTerminal(rec)
		return
	}

	switch {
	case rec.CalleeID == self && rec.Status == call.StatusRinging:
		c.offerIncoming(call.FromRecord(rec))
	case rec.CallerID == self && rec.Status == call.StatusConnected:
		c.remoteAnswered(rec.CallID)
	}
}

// remoteTerminal ends the local call when its record reaches a final status,
// whichever device wrote it. Terminal outcomes always win.
func (c *Coordinator) remoteTerminal(rec call.Record) {
	c.terminated[rec.CallID] = true

	cur := c.cur
	if cur == nil || cur.callID != rec.CallID {
		return
	}

	var trigger state.Trigger
	switch rec.Status {
	case call.StatusRejected:
		trigger = state.TriggerRemoteRejected
	case call.StatusMissed:
		trigger = state.TriggerRemoteMissed
	default:
		trigger = state.TriggerRemoteEnded
	}

	c.log.Info("call finished remotely", "call_id", rec.CallID, "status", rec.Status, "phase", c.phase())
	c.teardown(rec.CallID, trigger, call.StatusUnknown, "")
}

func (c *Coordinator) handleSignal(sig call.Signal) {
	if sig.ToUserID != c.opts.UserID || sig.Type != call.SignalOffer {
		return
	}
	c.offerIncoming(call.FromSignal(sig))
}

func (c *Coordinator) handleSnapshot(snap call.PendingSnapshot) {
	if age := c.deps.Clock.Now().Sub(snap.SavedAt); age > c.opts.RingTimeout {
		c.log.Info("discarding stale pending call", "call_id", snap.CallID, "age", age)
		return
	}
	c.offerIncoming(call.FromSnapshot(snap))
}

// offerIncoming merges one source's view of an incoming call into local
// state. The first source for a call id creates the incoming call; later
// ones only fill missing fields.
func (c *Coordinator) offerIncoming(p call.PartialCall) {
	self := c.opts.UserID
	if p.CallID == "" {
		return
	}
	if c.terminated[p.CallID] {
		c.log.Debug("ignoring finished call", "call_id", p.CallID, "source", p.Sources)
		return
	}
	if callee, ok := p.CalleeID.Get(); ok && callee != self {
		return
	}
	if p.CallerID.Value() == self {
		return
	}

	if c.incoming != nil && c.incoming.CallID == p.CallID {
		merged := c.incoming.Merge(p)
		c.incoming = &merged
		c.log.Debug("merged incoming call details", "call_id", p.CallID, "sources", merged.Sources, "missing", merged.Missing())
		if c.cur.answerPending {
			c.tryCommitAnswer()
		}
		return
	}
	if (c.answering != nil && c.answering.CallID == p.CallID) || (c.outgoing != nil && c.outgoing.CallID == p.CallID) {
		return
	}

	if phase := c.phase(); phase.IsActive() {
		c.log.Warn("ignoring incoming call while busy", "call_id", p.CallID, "phase", phase)
		return
	}

	placeholder := call.PartialCall{CallID: p.CallID, CalleeID: call.Known(self)}.Merge(p)
	cur := c.beginCall(p.CallID)
	c.incoming = &placeholder

	c.fire(state.TriggerIncoming, p.CallID)
	c.startTimer(timerRing, c.opts.RingTimeout)

	alertCtx, cancel := context.WithCancel(cur.ctx)
	cur.alertCancel = cancel
	c.spawn(func() { c.presentIncoming(alertCtx, placeholder) })

	if !placeholder.Sources.Has(call.SourceRecord) {
		c.spawn(func() { c.fetchRecord(cur.ctx, p.CallID) })
	}
}

// presentIncoming shows the system call UI and starts the local alert in
// parallel, so either can surface the call.
func (c *Coordinator) presentIncoming(ctx context.Context, p call.PartialCall) {
	name := p.DisplayName()
	isVideo := p.CallType.Value().IsVideo()

	done := make(chan struct{})
	go func() {
		defer close(done)
		opCtx, cancel := c.opContext(ctx)
		defer cancel()
		if err := c.deps.Telephony.ShowIncomingCall(opCtx, p.CallID, name, isVideo); err != nil {
			c.log.Warn("failed to show incoming call", "call_id", p.CallID, "error", err)
		}
	}()

	opCtx, cancel := c.opContext(ctx)
	if err := c.deps.Alerter.StartAlert(opCtx, p.CallID, name); err != nil {
		c.log.Warn("failed to start alert", "call_id", p.CallID, "error", err)
	}
	cancel()
	<-done

	// The call may have been answered or ended while the alert was starting.
	if ctx.Err() != nil {
		c.cancelAlert(p.CallID)
	}
}

func (c *Coordinator) stopAlert() {
	cur := c.cur
	if cur == nil || cur.alertCancel == nil {
		return
	}
	cur.alertCancel()
	c.cancelAlert(cur.callID)
}

func (c *Coordinator) cancelAlert(callID string) {
	c.background(func(ctx context.Context) {
		if err := c.deps.Alerter.CancelAlert(ctx, callID); err != nil {
			c.log.Warn("failed to cancel alert", "call_id", callID, "error", err)
		}
	})
}

// fetchRecord reconciles a call first seen through a signal or snapshot with
// its record.
func (c *Coordinator) fetchRecord(ctx context.Context, callID string) {
	opCtx, cancel := c.opContext(ctx)
	rec, err := c.deps.Records.Get(opCtx, callID)
	cancel()
	if ctx.Err() != nil {
		return
	}
	c.post(ctx, NewEvent(EventRecordFetched, recordFetched{callID: callID, rec: rec, err: err}))
}

// pollRecord re-reads the record until it carries a session address or ends.
// The answer-wait timer bounds it.
func (c *Coordinator) pollRecord(ctx context.Context, callID string) {
	b := backoff.WithContext(backoff.NewConstantBackOff(c.opts.AnswerPollInterval), ctx)

	_ = backoff.Retry(func() error {
		opCtx, cancel := c.opContext(ctx)
		rec, err := c.deps.Records.Get(opCtx, callID)
		cancel()
		if err != nil {
			return err
		}
		if rec.SessionAddress == "" && !rec.Status.IsTerminal() {
			return errAddressPending
		}
		c.post(ctx, NewEvent(EventRecordFetched, recordFetched{callID: callID, rec: rec}))
		return nil
	}, b)
}

func (c *Coordinator) handleRecordFetched(r recordFetched) {
	if r.err != nil {
		if errors.Is(r.err, store.ErrNotFound) {
			c.log.Debug("call record not found yet", "call_id", r.callID)
		} else {
			c.log.Warn("failed to fetch call record", "call_id", r.callID, "error", r.err)
		}
		return
	}
	c.handleRecordChange(*r.rec)
}

func (c *Coordinator) tryCommitAnswer() {
	if c.incoming == nil {
		return
	}
	if _, err := c.incoming.Resolve(); err != nil {
		return
	}
	c.commitAnswer()
}

// commitAnswer moves the resolved incoming call to answering and joins media.
func (c *Coordinator) commitAnswer() {
	rec, err := c.incoming.Resolve()
	if err != nil {
		return
	}

	cur := c.cur
	cur.answerPending = false
	if cur.pollCancel != nil {
		cur.pollCancel()
		cur.pollCancel = nil
	}
	c.stopTimer(timerAnswerWait)
	c.stopTimer(timerRing)

	c.answering = &rec
	c.incoming = nil

	c.fire(state.TriggerAnswer, rec.CallID)
	c.startTimer(timerConnect, c.opts.ConnectTimeout)

	c.spawn(func() { c.joinAnswered(cur.ctx, rec) })
}

// joinAnswered reports the answer to telephony and the record, then joins
// the caller's session.
func (c *Coordinator) joinAnswered(ctx context.Context, rec call.Record) {
	opCtx, cancel := c.opContext(ctx)
	if err := c.deps.Telephony.ReportConnected(opCtx, rec.CallID); err != nil {
		c.log.Warn("failed to report connected", "call_id", rec.CallID, "error", err)
	}
	cancel()

	opCtx, cancel = c.opContext(ctx)
	latest, err := c.deps.Records.UpdateStatus(opCtx, rec.CallID, call.StatusConnected)
	cancel()
	switch {
	case errors.Is(err, store.ErrInvalidTransition) && latest != nil:
		// The caller gave up first; the terminal record ends the call.
		c.post(ctx, NewEvent(EventRecordFetched, recordFetched{callID: rec.CallID, rec: latest}))
		return
	case err != nil:
		c.failOp(ctx, rec.CallID, "update call record", err)
		return
	}

	opCtx, cancel = c.opContext(ctx)
	handle, err := c.deps.Media.Create(opCtx, rec.CallType)
	cancel()
	if err != nil {
		c.failOp(ctx, rec.CallID, "create media session", err)
		return
	}
	if !c.post(c.ctx, NewEvent(EventMediaCreated, mediaCreated{callID: rec.CallID, handle: handle})) {
		return
	}

	opCtx, cancel = c.opContext(ctx)
	err = c.deps.Media.Join(opCtx, handle, rec.SessionAddress)
	cancel()
	if err != nil {
		c.failOp(ctx, rec.CallID, "join media session", err)
	}
}
