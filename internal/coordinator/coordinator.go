// Package coordinator runs the per-device call session state machine. All
// local call state is owned by a single event loop; feeds, telephony, media
// and the control surface only post messages to it.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
	"github.com/ihiteshgupta/call-coordinator/internal/wake"
)

// activeCall holds the per-call resources of the current call.
type activeCall struct {
	callID string
	ctx    context.Context
	cancel context.CancelFunc

	handle     media.Handle
	signalSent bool
	address    string

	alertCancel context.CancelFunc
	pollCancel  context.CancelFunc

	answerPending  bool
	remoteAnswered bool

	timers   map[timerKind]scheduled
	timerSeq uint64
}

type scheduled struct {
	timer *time.Timer
	seq   uint64
}

// Coordinator is the call session coordinator for one signed-in user.
type Coordinator struct {
	opts Options
	deps Deps
	sm   *state.Machine
	log  *slog.Logger

	events chan Event

	// Owned by the event loop.
	cur          *activeCall
	incoming     *call.PartialCall
	outgoing     *OutgoingCall
	answering    *call.Record
	resolved     map[string]bool
	terminated   map[string]bool
	released     map[media.Handle]bool
	muted        bool
	minimized    bool
	lastError    string
	firingCallID string

	snapMu sync.RWMutex
	snap   CallState

	mu             sync.RWMutex
	stateListeners []func(CallState)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	bg      sync.WaitGroup
	startMu sync.Mutex
	started bool
}

// New creates a coordinator. Call Start to begin processing.
func New(opts Options, deps Deps) (*Coordinator, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		opts:       opts,
		deps:       deps,
		sm:         state.NewMachine(),
		log:        slog.Default().With("component", "coordinator", "user_id", opts.UserID),
		events:     make(chan Event, opts.QueueSize),
		resolved:   make(map[string]bool),
		terminated: make(map[string]bool),
		released:   make(map[media.Handle]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	c.snap = c.buildState()

	c.sm.OnTransition(func(_ context.Context, from, to state.State, trigger state.Trigger) {
		callID := c.firingCallID
		c.log.Info("call state transition", "from", from, "to", to, "trigger", trigger, "call_id", callID)

		if c.deps.History == nil {
			return
		}

		hctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
		defer cancel()

		if err := c.deps.History.SaveState(hctx, to, callID); err != nil {
			c.log.Error("failed to save state", "error", err)
		}

		errMsg := ""
		if to == state.StateFailed {
			errMsg = c.lastError
		}
		if err := c.deps.History.LogTransition(hctx, callID, from, to, string(trigger), errMsg); err != nil {
			c.log.Error("failed to log transition", "error", err)
		}
	})

	return c, nil
}

// Start launches the event loop and the feed subscriptions.
func (c *Coordinator) Start() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.wg.Add(5)
	go c.processEvents()
	go c.followRecords()
	go c.followSignals()
	go c.pumpMedia()
	go c.pumpTelephony()
}

// Stop tears down any active call, then stops the loop and all feeds.
func (c *Coordinator) Stop() {
	c.startMu.Lock()
	running := c.started
	c.startMu.Unlock()

	if running && c.ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
		if err := c.Reset(ctx); err != nil {
			c.log.Warn("reset on stop failed", "error", err)
		}
		cancel()
	}
	c.cancel()
	c.wg.Wait()
	c.bg.Wait()
}

// Running reports whether the loop has started and not been stopped.
func (c *Coordinator) Running() bool {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.started && c.ctx.Err() == nil
}

// OnStateChange registers a listener called from the loop whenever the
// observable call state changes. Listeners must not block.
func (c *Coordinator) OnStateChange(fn func(CallState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListeners = append(c.stateListeners, fn)
}

// OnTransition registers a callback for raw phase transitions.
func (c *Coordinator) OnTransition(cb state.TransitionCallback) {
	c.sm.OnTransition(cb)
}

// State returns the current observable call state.
func (c *Coordinator) State() CallState {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Phase returns the current phase.
func (c *Coordinator) Phase() state.State {
	return c.State().Phase
}

// IsCallActive reports whether any call is ringing or in progress.
func (c *Coordinator) IsCallActive() bool {
	return c.State().IsCallActive()
}

// IsInActiveCall reports whether a call has been answered or placed.
func (c *Coordinator) IsInActiveCall() bool {
	return c.State().IsInActiveCall()
}

// UserID returns the signed-in user.
func (c *Coordinator) UserID() string {
	return c.opts.UserID
}

// History returns recorded phase transitions, newest first.
func (c *Coordinator) History(ctx context.Context, callID string, limit int) ([]store.Transition, error) {
	if c.deps.History == nil {
		return nil, nil
	}
	return c.deps.History.GetTransitionHistory(ctx, callID, limit)
}

// RecentCalls returns the user's call records, newest first.
func (c *Coordinator) RecentCalls(ctx context.Context, limit int) ([]call.Record, error) {
	return c.deps.Records.ListForUser(ctx, c.opts.UserID, limit)
}

func (c *Coordinator) processEvents() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			c.stopAllTimers()
			return
		case evt := <-c.events:
			c.handleEvent(evt)
		}
	}
}

func (c *Coordinator) handleEvent(evt Event) {
	var (
		reply chan error
		err   error
	)

	switch p := evt.Payload.(type) {
	case startPayload:
		reply, err = p.reply, c.handleStart(p.req)
	case resolvePayload:
		reply = p.reply
		if evt.Type == EventAnswerCall {
			err = c.handleAnswer(p.callID, p.source)
		} else {
			err = c.handleReject(p.callID, p.source)
		}
	case mutePayload:
		reply, err = p.reply, c.handleMute(p.toggle, p.muted)
	case minimizePayload:
		reply, err = p.reply, c.handleMinimize(p.minimized)
	case replyPayload:
		reply = p.reply
		if evt.Type == EventReset {
			c.handleReset()
		} else {
			err = c.handleEnd()
		}
	case call.RecordChange:
		c.handleRecordChange(p.Record)
	case call.Signal:
		c.handleSignal(p)
	case call.PendingSnapshot:
		c.handleSnapshot(p)
	case recordFetched:
		c.handleRecordFetched(p)
	case media.Event:
		c.handleMediaEvent(p)
	case mediaCreated:
		c.handleMediaCreated(p)
	case wake.TelephonyEvent:
		c.handleTelephony(p)
	case timerFired:
		c.handleTimer(p)
	case opFailed:
		c.handleOpFailed(p)
	default:
		c.log.Warn("unhandled event", "type", evt.Type)
	}

	c.publish()

	if reply != nil {
		reply <- err
	}
}

// publish refreshes the read-only snapshot and notifies listeners on change.
func (c *Coordinator) publish() {
	next := c.buildState()

	c.snapMu.Lock()
	changed := !sameState(c.snap, next)
	c.snap = next
	c.snapMu.Unlock()

	if !changed {
		return
	}

	c.mu.RLock()
	listeners := make([]func(CallState), len(c.stateListeners))
	copy(listeners, c.stateListeners)
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// post enqueues evt. It returns false once the coordinator or ctx is done.
func (c *Coordinator) post(ctx context.Context, evt Event) bool {
	select {
	case c.events <- evt:
		return true
	case <-c.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// request posts a control command and waits for the loop's reply.
func (c *Coordinator) request(ctx context.Context, t EventType, payload interface{}, reply chan error) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}
	if !c.post(ctx, NewEvent(t, payload)) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStopped
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}

// fire runs a phase transition attributed to callID.
func (c *Coordinator) fire(trigger state.Trigger, callID string) {
	c.firingCallID = callID
	defer func() { c.firingCallID = "" }()

	if err := c.sm.Fire(context.Background(), trigger); err != nil {
		c.log.Error("state transition failed", "trigger", trigger, "call_id", callID, "error", err)
	}
}

func (c *Coordinator) phase() state.State {
	return c.sm.MustState()
}

// beginCall allocates the per-call context and timers for callID.
func (c *Coordinator) beginCall(callID string) *activeCall {
	ctx, cancel := context.WithCancel(c.ctx)
	c.cur = &activeCall{
		callID: callID,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[timerKind]scheduled),
	}
	c.muted = false
	c.minimized = false
	c.lastError = ""
	return c.cur
}

// opContext bounds a single collaborator call.
func (c *Coordinator) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.opts.OpTimeout)
}

// background runs fn on a fresh bounded context, detached from any call.
func (c *Coordinator) background(fn func(ctx context.Context)) {
	c.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
		defer cancel()
		fn(ctx)
	})
}

// spawn runs fn off the loop. Stop waits for it.
func (c *Coordinator) spawn(fn func()) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn()
	}()
}
