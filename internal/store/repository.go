package store

import (
	"context"
	"errors"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a call id is reused.
var ErrDuplicate = errors.New("call record already exists")

// ErrInvalidTransition is returned when a status update would move a record
// backwards or out of a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// PendingCallKey is the fixed slot holding the pending incoming call.
const PendingCallKey = "pending_incoming_call"

// RecordRepository defines operations on the shared call record table.
type RecordRepository interface {
	Insert(ctx context.Context, rec *call.Record) error
	Get(ctx context.Context, callID string) (*call.Record, error)
	UpdateStatus(ctx context.Context, callID string, status call.Status) (*call.Record, error)
	SetSessionAddress(ctx context.Context, callID, address string) (*call.Record, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]call.Record, error)
	ListRinging(ctx context.Context, calleeID string, since time.Time) ([]call.Record, error)
	Subscribe(ctx context.Context, userID string) (<-chan call.RecordChange, error)
}

// SignalRepository defines operations on the insert-only signal relay.
type SignalRepository interface {
	Publish(ctx context.Context, sig *call.Signal) error
	Subscribe(ctx context.Context, userID string) (<-chan call.Signal, error)
}

// PendingRepository defines operations on the single pending call slot.
type PendingRepository interface {
	Save(ctx context.Context, snap call.PendingSnapshot) error
	Peek(ctx context.Context) (*call.PendingSnapshot, error)
	Take(ctx context.Context) (*call.PendingSnapshot, error)
}

// StateRepository defines operations for state persistence.
type StateRepository interface {
	GetState(ctx context.Context) (*Session, error)
	SaveState(ctx context.Context, s state.State, callID string) error
	LogTransition(ctx context.Context, callID string, from, to state.State, trigger, errMsg string) error
	GetTransitionHistory(ctx context.Context, callID string, limit int) ([]Transition, error)
}

var (
	_ RecordRepository  = (*SQLiteRecordRepo)(nil)
	_ RecordRepository  = (*PostgresRecordRepo)(nil)
	_ SignalRepository  = (*SQLiteSignalRepo)(nil)
	_ PendingRepository = (*SQLitePendingRepo)(nil)
	_ StateRepository   = (*SQLiteStateRepo)(nil)
)
