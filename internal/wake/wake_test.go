package wake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPush() Push {
	return Push{
		ToUserID:          "bob",
		CallID:            "c1",
		CallerID:          "alice",
		CallerDisplayName: "Alice",
		CallType:          call.TypeVideo,
		SentAt:            time.Now().UTC(),
	}
}

func TestBridge_HandleWakePush(t *testing.T) {
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer db.Close()

	tel := NewHeadlessTelephony()
	b := NewBridge(db.Pending, tel)
	ctx := context.Background()

	require.NoError(t, b.HandleWakePush(ctx, testPush()))

	snap, err := db.Pending.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", snap.CallID)
	assert.Equal(t, "bob", snap.CalleeID)
	assert.Equal(t, call.TypeVideo, snap.CallType)
	assert.Empty(t, snap.SessionAddress)

	status, ok := tel.Status("c1")
	require.True(t, ok)
	assert.Equal(t, CallShown, status)
}

func TestBridge_HandleWakePushInvalid(t *testing.T) {
	saver := &fakeSaver{}
	b := NewBridge(saver, NewHeadlessTelephony())

	p := testPush()
	p.CallID = ""
	assert.Error(t, b.HandleWakePush(context.Background(), p))
	assert.Empty(t, saver.saved)
}

func TestBridge_SaveFailureSkipsUI(t *testing.T) {
	saver := &fakeSaver{err: errors.New("disk full")}
	tel := NewHeadlessTelephony()
	b := NewBridge(saver, tel)

	err := b.HandleWakePush(context.Background(), testPush())
	assert.ErrorContains(t, err, "disk full")

	_, shown := tel.Status("c1")
	assert.False(t, shown)
}

func TestBridge_Run(t *testing.T) {
	saver := &fakeSaver{}
	b := NewBridge(saver, NewHeadlessTelephony())

	p := testPush()
	rx := &fakeReceiver{queue: []*Push{nil, &p}, errs: []error{errors.New("conn reset")}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, rx, "bob", 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return saver.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestBridge_RunSkipsWhileLive(t *testing.T) {
	saver := &fakeSaver{}
	tel := NewHeadlessTelephony()
	b := NewBridge(saver, tel)

	var live atomic.Bool
	live.Store(true)
	b.SkipWhile(live.Load)

	first := testPush()
	second := testPush()
	second.CallID = "c2"
	rx := &fakeReceiver{queue: []*Push{&first}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.Run(ctx, rx, "bob", 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, rx.drained, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, saver.count())
	_, shown := tel.Status(first.CallID)
	assert.False(t, shown)

	live.Store(false)
	rx.push(&second)
	assert.Eventually(t, func() bool { return saver.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHeadlessTelephony(t *testing.T) {
	tel := NewHeadlessTelephony()
	ctx := context.Background()

	require.NoError(t, tel.ShowIncomingCall(ctx, "c1", "Alice", false))
	require.NoError(t, tel.ReportConnected(ctx, "c1"))
	status, _ := tel.Status("c1")
	assert.Equal(t, CallConnected, status)

	require.NoError(t, tel.EndCall(ctx, "c1"))
	require.NoError(t, tel.EndCall(ctx, "c1"))
	_, ok := tel.Status("c1")
	assert.False(t, ok)

	assert.True(t, tel.Emit(TelephonyEvent{Action: ActionAnswer, CallID: "c1"}))
	evt := <-tel.Events()
	assert.Equal(t, ActionAnswer, evt.Action)
}

func TestLogAlerter(t *testing.T) {
	a := NewLogAlerter()
	ctx := context.Background()

	require.NoError(t, a.StartAlert(ctx, "c1", "Alice"))
	assert.True(t, a.Ringing("c1"))
	require.NoError(t, a.CancelAlert(ctx, "c1"))
	require.NoError(t, a.CancelAlert(ctx, "c1"))
	assert.False(t, a.Ringing("c1"))
}

func TestParseAction(t *testing.T) {
	for _, a := range []Action{ActionAnswer, ActionEnd, ActionMute} {
		parsed, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	_, err := ParseAction("hold")
	assert.Error(t, err)
}

func TestDecodePush(t *testing.T) {
	p, err := decodePush(`{"to_user_id":"bob","call_id":"c1","caller_id":"alice","call_type":"voice"}`)
	require.NoError(t, err)
	assert.Equal(t, call.TypeVoice, p.CallType)

	_, err = decodePush(`{"to_user_id":"bob"}`)
	assert.Error(t, err)
	_, err = decodePush(`nope`)
	assert.Error(t, err)
}

func TestLogPusher_Validates(t *testing.T) {
	lp := NewLogPusher()
	assert.NoError(t, lp.DeliverWake(context.Background(), testPush()))
	assert.Error(t, lp.DeliverWake(context.Background(), Push{}))
}

// Fakes

type fakeSaver struct {
	mu    sync.Mutex
	saved []call.PendingSnapshot
	err   error
}

func (f *fakeSaver) Save(_ context.Context, snap call.PendingSnapshot) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeReceiver struct {
	mu    sync.Mutex
	errs  []error
	queue []*Push
}

func (f *fakeReceiver) push(p *Push) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, p)
}

func (f *fakeReceiver) drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) == 0
}

func (f *fakeReceiver) Receive(ctx context.Context, _ string, timeout time.Duration) (*Push, error) {
	f.mu.Lock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return nil, err
	}
	if len(f.queue) > 0 {
		p := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return p, nil
	}
	f.mu.Unlock()

	select {
	case <-time.After(timeout):
	case <-ctx.Done():
	}
	return nil, nil
}
