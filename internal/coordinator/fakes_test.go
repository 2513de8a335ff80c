package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/presence"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
	"github.com/ihiteshgupta/call-coordinator/internal/wake"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// env is a shared backend (records, signals, presence, media rooms) that
// several devices connect to.
type env struct {
	t        *testing.T
	shared   *store.SQLiteStore
	hub      *fakeHub
	presence *presence.Memory
}

func newEnv(t *testing.T) *env {
	shared, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { shared.Close() })

	return &env{
		t:        t,
		shared:   shared,
		hub:      &fakeHub{rooms: make(map[string]map[*fakeEngine]media.Handle)},
		presence: presence.NewMemory(time.Minute),
	}
}

type device struct {
	c      *Coordinator
	media  *fakeEngine
	tel    *fakeTelephony
	alerts *wake.LogAlerter
	pusher *fakePusher
	local  *store.SQLiteStore
}

func testOptions(user string) Options {
	o := DefaultOptions(user)
	o.DisplayName = strings.ToUpper(user[:1]) + user[1:]
	o.RingTimeout = 3 * time.Second
	o.AnswerWaitTimeout = 2 * time.Second
	o.AnswerPollInterval = 20 * time.Millisecond
	o.ConnectTimeout = 3 * time.Second
	o.OpTimeout = time.Second
	o.ResubscribeBaseDelay = 10 * time.Millisecond
	o.ResubscribeMaxDelay = 50 * time.Millisecond
	return o
}

// device starts a coordinator for user and waits until its feeds are live.
func (e *env) device(user string, tweaks ...func(*Options, *Deps)) *device {
	t := e.t

	local, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	d := &device{
		media:  e.hub.engine(user),
		tel:    newFakeTelephony(),
		alerts: wake.NewLogAlerter(),
		pusher: &fakePusher{},
		local:  local,
	}

	opts := testOptions(user)
	deps := Deps{
		Records:   e.shared.Records,
		Signals:   e.shared.Signals,
		Pending:   local.Pending,
		History:   local.State,
		Presence:  e.presence,
		Media:     d.media,
		Telephony: d.tel,
		Alerter:   d.alerts,
		Pusher:    d.pusher,
		IDs:       &seqIDs{prefix: user},
	}
	for _, fn := range tweaks {
		fn(&opts, &deps)
	}

	records := &watchedRecords{RecordRepository: deps.Records, ready: make(chan struct{})}
	signals := &watchedSignals{SignalRepository: deps.Signals, ready: make(chan struct{})}
	deps.Records, deps.Signals = records, signals

	c, err := New(opts, deps)
	require.NoError(t, err)
	c.Start()
	t.Cleanup(func() {
		c.Stop()
		local.Close()
	})

	for _, ready := range []chan struct{}{records.ready, signals.ready} {
		select {
		case <-ready:
		case <-time.After(waitFor):
			t.Fatalf("%s feeds not subscribed", user)
		}
	}

	d.c = c
	return d
}

func (d *device) waitPhase(t *testing.T, want state.State) {
	t.Helper()
	require.Eventually(t, func() bool { return d.c.Phase() == want }, waitFor, tick,
		"expected phase %s, have %s", want, d.c.Phase())
}

func (d *device) waitIncoming(t *testing.T, cond func(*IncomingCall) bool) *IncomingCall {
	t.Helper()
	var in *IncomingCall
	require.Eventually(t, func() bool {
		in = d.c.State().Incoming
		return in != nil && cond(in)
	}, waitFor, tick)
	return in
}

// Ids

type seqIDs struct {
	prefix string
	n      atomic.Int64
}

func (s *seqIDs) New() string {
	return fmt.Sprintf("%s-call-%d", s.prefix, s.n.Add(1))
}

// Media

type fakeHub struct {
	mu    sync.Mutex
	rooms map[string]map[*fakeEngine]media.Handle
	next  int
}

func (h *fakeHub) engine(name string) *fakeEngine {
	return &fakeEngine{
		hub:    h,
		name:   name,
		events: make(chan media.Event, 64),
		joins:  make(map[media.Handle]string),
		leaves: make(map[media.Handle]int),
		muted:  make(map[media.Handle]bool),
	}
}

func (h *fakeHub) enter(address string, e *fakeEngine, handle media.Handle) map[*fakeEngine]media.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[address]
	if !ok {
		room = make(map[*fakeEngine]media.Handle)
		h.rooms[address] = room
	}
	others := make(map[*fakeEngine]media.Handle, len(room))
	for eng, hd := range room {
		others[eng] = hd
	}
	room[e] = handle
	return others
}

func (h *fakeHub) exit(e *fakeEngine, handle media.Handle) map[*fakeEngine]media.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	others := make(map[*fakeEngine]media.Handle)
	for _, room := range h.rooms {
		if room[e] != handle {
			continue
		}
		delete(room, e)
		for eng, hd := range room {
			others[eng] = hd
		}
	}
	return others
}

func (h *fakeHub) newRoom() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	return fmt.Sprintf("room-%d", h.next)
}

// fakeEngine joins shared rooms in a fakeHub. When silent is set, joins are
// recorded but never complete.
type fakeEngine struct {
	hub    *fakeHub
	name   string
	events chan media.Event

	mu        sync.Mutex
	created   []media.Handle
	joins     map[media.Handle]string
	joinCount int
	leaves    map[media.Handle]int
	muted     map[media.Handle]bool
	silent    bool
	createErr error
}

func (e *fakeEngine) Create(_ context.Context, _ call.Type) (media.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return "", e.createErr
	}
	h := media.Handle(fmt.Sprintf("%s-h%d", e.name, len(e.created)+1))
	e.created = append(e.created, h)
	return h, nil
}

func (e *fakeEngine) Join(_ context.Context, h media.Handle, address string) error {
	e.mu.Lock()
	e.joinCount++
	e.joins[h] = address
	silent := e.silent
	e.mu.Unlock()

	if silent {
		return nil
	}
	if address == "" {
		address = e.hub.newRoom()
	}

	others := e.hub.enter(address, e, h)
	e.emit(media.Event{Kind: media.EventJoined, Handle: h, Address: address})
	for other, oh := range others {
		other.emit(media.Event{Kind: media.EventRemoteJoined, Handle: oh, Participant: e.name})
		e.emit(media.Event{Kind: media.EventRemoteJoined, Handle: h, Participant: other.name})
	}
	return nil
}

func (e *fakeEngine) Leave(_ context.Context, h media.Handle) error {
	e.mu.Lock()
	e.leaves[h]++
	e.mu.Unlock()

	for other, oh := range e.hub.exit(e, h) {
		other.emit(media.Event{Kind: media.EventRemoteLeft, Handle: oh, Participant: e.name})
	}
	return nil
}

func (e *fakeEngine) SetMuted(_ context.Context, h media.Handle, muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted[h] = muted
	return nil
}

func (e *fakeEngine) Events() <-chan media.Event {
	return e.events
}

func (e *fakeEngine) emit(evt media.Event) {
	select {
	case e.events <- evt:
	default:
	}
}

func (e *fakeEngine) setSilent(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silent = v
}

func (e *fakeEngine) joined() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joinCount
}

func (e *fakeEngine) lastHandle() media.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.created) == 0 {
		return ""
	}
	return e.created[len(e.created)-1]
}

func (e *fakeEngine) joinAddress(h media.Handle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joins[h]
}

func (e *fakeEngine) leaveCount(h media.Handle) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaves[h]
}

func (e *fakeEngine) isMuted(h media.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted[h]
}

// Telephony

type fakeTelephony struct {
	mu        sync.Mutex
	shown     map[string]int
	connected map[string]int
	ended     map[string]int
	events    chan wake.TelephonyEvent
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{
		shown:     make(map[string]int),
		connected: make(map[string]int),
		ended:     make(map[string]int),
		events:    make(chan wake.TelephonyEvent, 8),
	}
}

func (f *fakeTelephony) ShowIncomingCall(_ context.Context, callID, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown[callID]++
	return nil
}

func (f *fakeTelephony) ReportConnected(_ context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[callID]++
	return nil
}

func (f *fakeTelephony) EndCall(_ context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended[callID]++
	return nil
}

func (f *fakeTelephony) Events() <-chan wake.TelephonyEvent {
	return f.events
}

func (f *fakeTelephony) count(m map[string]int, callID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[callID]
}

// Push

type fakePusher struct {
	mu     sync.Mutex
	pushes []wake.Push
}

func (f *fakePusher) DeliverWake(_ context.Context, p wake.Push) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, p)
	return nil
}

func (f *fakePusher) sent() []wake.Push {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wake.Push(nil), f.pushes...)
}

// Store wrappers

type watchedRecords struct {
	store.RecordRepository
	once  sync.Once
	ready chan struct{}
}

func (w *watchedRecords) Subscribe(ctx context.Context, userID string) (<-chan call.RecordChange, error) {
	ch, err := w.RecordRepository.Subscribe(ctx, userID)
	if err == nil {
		w.once.Do(func() { close(w.ready) })
	}
	return ch, err
}

type watchedSignals struct {
	store.SignalRepository
	once  sync.Once
	ready chan struct{}
}

func (w *watchedSignals) Subscribe(ctx context.Context, userID string) (<-chan call.Signal, error) {
	ch, err := w.SignalRepository.Subscribe(ctx, userID)
	if err == nil {
		w.once.Do(func() { close(w.ready) })
	}
	return ch, err
}

// faultyRecords fails inserts, and the first subscribeFailures subscriptions.
type faultyRecords struct {
	store.RecordRepository
	insertErr         error
	subscribeFailures atomic.Int32
}

func (f *faultyRecords) Insert(ctx context.Context, rec *call.Record) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.RecordRepository.Insert(ctx, rec)
}

func (f *faultyRecords) Subscribe(ctx context.Context, userID string) (<-chan call.RecordChange, error) {
	if f.subscribeFailures.Add(-1) >= 0 {
		return nil, errors.New("feed unavailable")
	}
	return f.RecordRepository.Subscribe(ctx, userID)
}
