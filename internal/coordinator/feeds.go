package coordinator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
)

func (c *Coordinator) newResubscribeBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ResubscribeBaseDelay
	bo.MaxInterval = c.opts.ResubscribeMaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// follow keeps a feed subscription alive until the coordinator stops. After
// every (re)subscribe, resync runs so changes made while disconnected are
// not lost.
func follow[T any](c *Coordinator, name string, subscribe func(ctx context.Context) (<-chan T, error), resync func(ctx context.Context), deliver func(T) Event) {
	defer c.wg.Done()

	log := c.log.With("feed", name)
	bo := c.newResubscribeBackOff()

	for c.ctx.Err() == nil {
		ch, err := subscribe(c.ctx)
		if err != nil {
			delay := bo.NextBackOff()
			log.Warn("feed subscribe failed", "error", err, "retry_in", delay)
			if !c.sleep(delay) {
				return
			}
			continue
		}
		bo.Reset()
		log.Debug("feed subscribed")

		if resync != nil {
			resync(c.ctx)
		}

		for item := range ch {
			if !c.post(c.ctx, deliver(item)) {
				return
			}
		}

		if c.ctx.Err() != nil {
			return
		}
		delay := bo.NextBackOff()
		log.Warn("feed closed, resubscribing", "retry_in", delay)
		if !c.sleep(delay) {
			return
		}
	}
}

func (c *Coordinator) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Coordinator) followRecords() {
	follow(c, "records",
		func(ctx context.Context) (<-chan call.RecordChange, error) {
			return c.deps.Records.Subscribe(ctx, c.opts.UserID)
		},
		c.catchUp,
		func(ch call.RecordChange) Event { return NewEvent(EventRecordChange, ch) },
	)
}

func (c *Coordinator) followSignals() {
	follow(c, "signals",
		func(ctx context.Context) (<-chan call.Signal, error) {
			return c.deps.Signals.Subscribe(ctx, c.opts.UserID)
		},
		nil,
		func(sig call.Signal) Event { return NewEvent(EventSignal, sig) },
	)
}

// catchUp replays ringing calls addressed to this user that are still within
// the ring window.
func (c *Coordinator) catchUp(ctx context.Context) {
	since := c.deps.Clock.Now().Add(-c.opts.RingTimeout)

	opCtx, cancel := c.opContext(ctx)
	records, err := c.deps.Records.ListRinging(opCtx, c.opts.UserID, since)
	cancel()
	if err != nil {
		c.log.Warn("failed to list ringing calls", "error", err)
		return
	}

	for _, rec := range records {
		if !c.post(ctx, NewEvent(EventRecordChange, call.RecordChange{Op: call.ChangeInsert, Record: rec})) {
			return
		}
	}
}

func (c *Coordinator) pumpMedia() {
	defer c.wg.Done()
	events := c.deps.Media.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !c.post(c.ctx, NewEvent(EventMedia, evt)) {
				return
			}
		}
	}
}

func (c *Coordinator) pumpTelephony() {
	defer c.wg.Done()
	events := c.deps.Telephony.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !c.post(c.ctx, NewEvent(EventTelephony, evt)) {
				return
			}
		}
	}
}
