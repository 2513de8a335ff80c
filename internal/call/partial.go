package call

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIncomplete is returned when a partial call cannot yet be resolved.
var ErrIncomplete = errors.New("call details incomplete")

// Field is a value that is either known or explicitly missing.
// The zero Field is missing.
type Field[T comparable] struct {
	value T
	known bool
}

// Known wraps v. A zero v yields a missing field, since sources leave
// unknown values empty.
func Known[T comparable](v T) Field[T] {
	var zero T
	if v == zero {
		return Field[T]{}
	}
	return Field[T]{value: v, known: true}
}

// Missing returns an unset field.
func Missing[T comparable]() Field[T] {
	return Field[T]{}
}

// Get returns the value and whether it is known.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.known
}

// Value returns the value, or the zero value when missing.
func (f Field[T]) Value() T {
	return f.value
}

func (f Field[T]) IsKnown() bool {
	return f.known
}

// Fill returns f if known, otherwise other.
func (f Field[T]) Fill(other Field[T]) Field[T] {
	if f.known {
		return f
	}
	return other
}

// Source identifies where incoming call details came from.
type Source uint8

const (
	SourceRecord Source = 1 << iota
	SourceSignal
	SourceSnapshot
)

func (s Source) Has(other Source) bool {
	return s&other != 0
}

func (s Source) String() string {
	var parts []string
	if s.Has(SourceRecord) {
		parts = append(parts, "record")
	}
	if s.Has(SourceSignal) {
		parts = append(parts, "signal")
	}
	if s.Has(SourceSnapshot) {
		parts = append(parts, "snapshot")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// PartialCall accumulates incoming call details from records, signals and
// pending snapshots. Fields are only ever filled, never overwritten.
type PartialCall struct {
	CallID            string
	CallerID          Field[string]
	CalleeID          Field[string]
	CallerDisplayName Field[string]
	CallType          Field[Type]
	SessionAddress    Field[string]
	StartedAt         Field[time.Time]
	Sources           Source
}

// FromRecord builds a partial call from a record row.
func FromRecord(r Record) PartialCall {
	return PartialCall{
		CallID:            r.CallID,
		CallerID:          Known(r.CallerID),
		CalleeID:          Known(r.CalleeID),
		CallerDisplayName: Known(r.CallerDisplayName),
		CallType:          Known(r.CallType),
		SessionAddress:    Known(r.SessionAddress),
		StartedAt:         Known(r.StartedAt),
		Sources:           SourceRecord,
	}
}

// FromSignal builds a partial call from an offer signal. A signal's creation
// time is not the call start, so StartedAt stays missing.
func FromSignal(s Signal) PartialCall {
	return PartialCall{
		CallID:            s.CallID,
		CallerID:          Known(s.FromUserID),
		CalleeID:          Known(s.ToUserID),
		CallerDisplayName: Known(s.Payload.CallerDisplayName),
		CallType:          Known(s.Payload.CallType),
		SessionAddress:    Known(s.Payload.SessionAddress),
		Sources:           SourceSignal,
	}
}

// FromSnapshot builds a partial call from a persisted pending snapshot.
func FromSnapshot(s PendingSnapshot) PartialCall {
	return PartialCall{
		CallID:            s.CallID,
		CallerID:          Known(s.CallerID),
		CalleeID:          Known(s.CalleeID),
		CallerDisplayName: Known(s.CallerDisplayName),
		CallType:          Known(s.CallType),
		SessionAddress:    Known(s.SessionAddress),
		StartedAt:         Known(s.StartedAt),
		Sources:           SourceSnapshot,
	}
}

// Merge fills every missing field of p from other. Populated fields of p are
// kept. A partial call for a different call id is ignored.
func (p PartialCall) Merge(other PartialCall) PartialCall {
	if p.CallID != other.CallID {
		return p
	}
	p.CallerID = p.CallerID.Fill(other.CallerID)
	p.CalleeID = p.CalleeID.Fill(other.CalleeID)
	p.CallerDisplayName = p.CallerDisplayName.Fill(other.CallerDisplayName)
	p.CallType = p.CallType.Fill(other.CallType)
	p.SessionAddress = p.SessionAddress.Fill(other.SessionAddress)
	p.StartedAt = p.StartedAt.Fill(other.StartedAt)
	p.Sources |= other.Sources
	return p
}

// Ready reports whether the call can be joined.
func (p PartialCall) Ready() bool {
	return p.SessionAddress.IsKnown()
}

// Missing lists the names of fields still required to resolve the call.
func (p PartialCall) Missing() []string {
	var missing []string
	if !p.CallerID.IsKnown() {
		missing = append(missing, "caller_id")
	}
	if !p.CalleeID.IsKnown() {
		missing = append(missing, "callee_id")
	}
	if !p.CallType.IsKnown() {
		missing = append(missing, "call_type")
	}
	if !p.SessionAddress.IsKnown() {
		missing = append(missing, "session_address")
	}
	return missing
}

// Resolve converts the partial call into a full record.
func (p PartialCall) Resolve() (Record, error) {
	if missing := p.Missing(); len(missing) > 0 {
		return Record{}, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	return Record{
		CallID:            p.CallID,
		CallerID:          p.CallerID.Value(),
		CalleeID:          p.CalleeID.Value(),
		CallType:          p.CallType.Value(),
		Status:            StatusRinging,
		SessionAddress:    p.SessionAddress.Value(),
		CallerDisplayName: p.DisplayName(),
		StartedAt:         p.StartedAt.Value(),
	}, nil
}

// DisplayName returns the caller name, falling back to the caller id.
func (p PartialCall) DisplayName() string {
	if name, ok := p.CallerDisplayName.Get(); ok {
		return name
	}
	return p.CallerID.Value()
}

// Snapshot converts the partial call to its persisted form.
func (p PartialCall) Snapshot(savedAt time.Time) PendingSnapshot {
	return PendingSnapshot{
		CallID:            p.CallID,
		CallerID:          p.CallerID.Value(),
		CalleeID:          p.CalleeID.Value(),
		CallerDisplayName: p.CallerDisplayName.Value(),
		CallType:          p.CallType.Value(),
		SessionAddress:    p.SessionAddress.Value(),
		StartedAt:         p.StartedAt.Value(),
		SavedAt:           savedAt,
	}
}

// PendingSnapshot is an unresolved incoming call persisted for recovery after
// the process was not running to observe it.
type PendingSnapshot struct {
	CallID            string    `json:"call_id"`
	CallerID          string    `json:"caller_id,omitempty"`
	CalleeID          string    `json:"callee_id,omitempty"`
	CallerDisplayName string    `json:"caller_display_name,omitempty"`
	CallType          Type      `json:"call_type,omitempty"`
	SessionAddress    string    `json:"session_address,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	SavedAt           time.Time `json:"saved_at"`
}
