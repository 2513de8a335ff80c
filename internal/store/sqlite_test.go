package store

import (
	"context"
	"testing"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newRinging(id string) *call.Record {
	return &call.Record{
		CallID:            id,
		CallerID:          "alice",
		CalleeID:          "bob",
		CallType:          call.TypeVideo,
		Status:            call.StatusRinging,
		CallerDisplayName: "Alice",
	}
}

// Record Repository Tests

func TestSQLiteRecordRepo_InsertAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	err := store.Records.Insert(ctx, newRinging("c1"))
	require.NoError(t, err)

	rec, err := store.Records.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.CallerID)
	assert.Equal(t, call.TypeVideo, rec.CallType)
	assert.Equal(t, call.StatusRinging, rec.Status)
	assert.Empty(t, rec.SessionAddress)
	assert.Nil(t, rec.EndedAt)
	assert.False(t, rec.StartedAt.IsZero())
}

func TestSQLiteRecordRepo_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.Records.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRecordRepo_InsertDuplicate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Records.Insert(ctx, newRinging("c1")))
	_, err := store.Records.UpdateStatus(ctx, "c1", call.StatusEnded)
	require.NoError(t, err)

	// A finished call id cannot be reused
	err = store.Records.Insert(ctx, newRinging("c1"))
	assert.ErrorIs(t, err, ErrDuplicate)

	rec, err := store.Records.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, rec.Status)
}

func TestSQLiteRecordRepo_InsertValidates(t *testing.T) {
	store := setupTestDB(t)

	rec := newRinging("c1")
	rec.Status = call.StatusConnected
	err := store.Records.Insert(context.Background(), rec)
	assert.ErrorIs(t, err, call.ErrInvalidRecord)
}

func TestSQLiteRecordRepo_UpdateStatusMonotonic(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, store.Records.Insert(ctx, newRinging("c1")))

	rec, err := store.Records.UpdateStatus(ctx, "c1", call.StatusConnected)
	require.NoError(t, err)
	assert.Equal(t, call.StatusConnected, rec.Status)

	_, err = store.Records.UpdateStatus(ctx, "c1", call.StatusRinging)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	rec, err = store.Records.UpdateStatus(ctx, "c1", call.StatusEnded)
	require.NoError(t, err)
	require.NotNil(t, rec.EndedAt)

	// Same status again is a no-op
	rec, err = store.Records.UpdateStatus(ctx, "c1", call.StatusEnded)
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, rec.Status)

	_, err = store.Records.UpdateStatus(ctx, "c1", call.StatusMissed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := store.Records.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, stored.Status)
	require.NotNil(t, stored.EndedAt)
}

func TestSQLiteRecordRepo_SetSessionAddressFillsOnce(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, store.Records.Insert(ctx, newRinging("c1")))

	rec, err := store.Records.SetSessionAddress(ctx, "c1", "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", rec.SessionAddress)

	rec, err = store.Records.SetSessionAddress(ctx, "c1", "room-2")
	require.NoError(t, err)
	assert.Equal(t, "room-1", rec.SessionAddress)
}

func TestSQLiteRecordRepo_ListForUser(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	first := newRinging("c1")
	first.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Records.Insert(ctx, first))

	second := newRinging("c2")
	second.CallerID, second.CalleeID = "carol", "alice"
	require.NoError(t, store.Records.Insert(ctx, second))

	other := newRinging("c3")
	other.CallerID, other.CalleeID = "carol", "dave"
	require.NoError(t, store.Records.Insert(ctx, other))

	records, err := store.Records.ListForUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c2", records[0].CallID)
	assert.Equal(t, "c1", records[1].CallID)
}

func TestSQLiteRecordRepo_ListRinging(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Records.Insert(ctx, newRinging("c1")))
	require.NoError(t, store.Records.Insert(ctx, newRinging("c2")))
	_, err := store.Records.UpdateStatus(ctx, "c2", call.StatusMissed)
	require.NoError(t, err)

	stale := newRinging("c3")
	stale.StartedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, store.Records.Insert(ctx, stale))

	records, err := store.Records.ListRinging(ctx, "bob", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0].CallID)
}

func TestSQLiteRecordRepo_Subscribe(t *testing.T) {
	store := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bobFeed, err := store.Records.Subscribe(ctx, "bob")
	require.NoError(t, err)
	daveFeed, err := store.Records.Subscribe(ctx, "dave")
	require.NoError(t, err)

	require.NoError(t, store.Records.Insert(ctx, newRinging("c1")))
	_, err = store.Records.UpdateStatus(ctx, "c1", call.StatusMissed)
	require.NoError(t, err)

	change := <-bobFeed
	assert.Equal(t, call.ChangeInsert, change.Op)
	assert.Equal(t, "c1", change.Record.CallID)

	change = <-bobFeed
	assert.Equal(t, call.ChangeUpdate, change.Op)
	assert.Equal(t, call.StatusMissed, change.Record.Status)

	select {
	case c := <-daveFeed:
		t.Fatalf("unexpected change for non-participant: %+v", c)
	default:
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-bobFeed
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// Signal Repository Tests

func TestSQLiteSignalRepo_PublishAndSubscribe(t *testing.T) {
	store := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := store.Signals.Subscribe(ctx, "bob")
	require.NoError(t, err)

	sig := &call.Signal{
		CallID:     "c1",
		FromUserID: "alice",
		ToUserID:   "bob",
		Type:       call.SignalOffer,
		Payload:    call.SignalPayload{SessionAddress: "room-1", CallType: call.TypeVoice, CallerDisplayName: "Alice"},
	}
	require.NoError(t, store.Signals.Publish(ctx, sig))

	got := <-feed
	assert.Equal(t, "room-1", got.Payload.SessionAddress)

	signals, err := store.Signals.ListForCall(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, call.TypeVoice, signals[0].Payload.CallType)
	assert.Equal(t, call.SignalOffer, signals[0].Type)
}

func TestSQLiteSignalRepo_PublishValidates(t *testing.T) {
	store := setupTestDB(t)

	err := store.Signals.Publish(context.Background(), &call.Signal{CallID: "c1", FromUserID: "a", ToUserID: "b"})
	assert.ErrorIs(t, err, call.ErrInvalidRecord)
}

// Pending Repository Tests

func TestSQLitePendingRepo_SaveTakeOnce(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.Pending.Take(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	snap := call.PendingSnapshot{CallID: "c1", CallerID: "alice", CallType: call.TypeVideo, SavedAt: time.Now()}
	require.NoError(t, store.Pending.Save(ctx, snap))

	peeked, err := store.Pending.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", peeked.CallID)

	taken, err := store.Pending.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", taken.CallID)
	assert.Equal(t, call.TypeVideo, taken.CallType)

	_, err = store.Pending.Take(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLitePendingRepo_LastCallWins(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Pending.Save(ctx, call.PendingSnapshot{CallID: "c1"}))
	require.NoError(t, store.Pending.Save(ctx, call.PendingSnapshot{CallID: "c2"}))

	taken, err := store.Pending.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2", taken.CallID)
}

// State Repository Tests

func TestSQLiteStateRepo_SaveAndGetState(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	sess, err := store.State.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, sess.State)

	require.NoError(t, store.State.SaveState(ctx, state.StateRinging, "c1"))

	sess, err = store.State.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StateRinging, sess.State)
	assert.Equal(t, "c1", sess.CallID)
}

func TestSQLiteStateRepo_TransitionHistory(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.State.LogTransition(ctx, "c1", state.StateIdle, state.StateRinging, "incoming", ""))
	require.NoError(t, store.State.LogTransition(ctx, "c1", state.StateRinging, state.StateFailed, "fail", "room not found"))
	require.NoError(t, store.State.LogTransition(ctx, "c2", state.StateIdle, state.StateConnecting, "dial", ""))

	history, err := store.State.GetTransitionHistory(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, state.StateFailed, history[0].ToState)
	assert.Equal(t, "room not found", history[0].Error)

	all, err := store.State.GetTransitionHistory(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestParseRecordNotification(t *testing.T) {
	note, op, err := parseRecordNotification(`{"call_id":"c1","op":"update","caller_id":"alice","callee_id":"bob"}`)
	require.NoError(t, err)
	assert.Equal(t, call.ChangeUpdate, op)
	assert.Equal(t, "bob", note.CalleeID)

	_, _, err = parseRecordNotification(`{"call_id":"c1","op":"delete"}`)
	assert.Error(t, err)

	_, _, err = parseRecordNotification(`not json`)
	assert.Error(t, err)
}
