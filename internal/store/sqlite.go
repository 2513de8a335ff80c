package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
)

// SQLiteStore implements all repositories using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	Records *SQLiteRecordRepo
	Signals *SQLiteSignalRepo
	Pending *SQLitePendingRepo
	State   *SQLiteStateRepo
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if strings.HasPrefix(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := &SQLiteStore{
		db:      db,
		Records: &SQLiteRecordRepo{db: db, feed: newFeed[call.RecordChange]("call_records")},
		Signals: &SQLiteSignalRepo{db: db, feed: newFeed[call.Signal]("call_signals")},
		Pending: &SQLitePendingRepo{db: db},
		State:   &SQLiteStateRepo{db: db},
	}

	return store, nil
}

// Close closes the database connection and ends all subscriptions.
func (s *SQLiteStore) Close() error {
	s.Records.feed.closeAll()
	s.Signals.feed.closeAll()
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- Shared call records
	CREATE TABLE IF NOT EXISTS call_records (
		call_id TEXT PRIMARY KEY,
		caller_id TEXT NOT NULL,
		callee_id TEXT NOT NULL,
		call_type TEXT NOT NULL,
		status TEXT NOT NULL,
		session_address TEXT NOT NULL DEFAULT '',
		caller_display_name TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_call_records_caller ON call_records(caller_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_call_records_callee ON call_records(callee_id, started_at DESC);

	-- Insert-only signal relay
	CREATE TABLE IF NOT EXISTS call_signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id TEXT NOT NULL,
		from_user_id TEXT NOT NULL,
		to_user_id TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		session_address TEXT NOT NULL DEFAULT '',
		call_type TEXT NOT NULL DEFAULT '',
		caller_display_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_call_signals_call ON call_signals(call_id);

	-- Device-local key/value slots
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Coordinator state table
	CREATE TABLE IF NOT EXISTS coordinator_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state TEXT NOT NULL,
		call_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	);

	INSERT OR IGNORE INTO coordinator_state (id, state, updated_at)
	VALUES (1, 'idle', CURRENT_TIMESTAMP);

	-- Transitions history table
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id TEXT NOT NULL DEFAULT '',
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		trigger TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_call ON transitions(call_id);
	`
	_, err := db.Exec(migration)
	return err
}

// SQLiteRecordRepo implements RecordRepository.
type SQLiteRecordRepo struct {
	db   *sql.DB
	feed *feed[call.RecordChange]
}

const recordColumns = `call_id, caller_id, callee_id, call_type, status, session_address, caller_display_name, started_at, ended_at`

func (r *SQLiteRecordRepo) Insert(ctx context.Context, rec *call.Record) error {
	if err := rec.ValidateInsert(); err != nil {
		return err
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	rec.StartedAt = rec.StartedAt.UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO call_records
		(call_id, caller_id, callee_id, call_type, status, session_address, caller_display_name, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.CallID, rec.CallerID, rec.CalleeID, rec.CallType.String(), rec.Status.String(),
		rec.SessionAddress, rec.CallerDisplayName, rec.StartedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}

	r.feed.publish(call.RecordChange{Op: call.ChangeInsert, Record: *rec})
	return nil
}

func (r *SQLiteRecordRepo) Get(ctx context.Context, callID string) (*call.Record, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM call_records WHERE call_id = ?", callID)
	return scanRecord(row)
}

// UpdateStatus moves the record to status. Repeating the current status is a
// no-op that returns the record unchanged and emits no change.
func (r *SQLiteRecordRepo) UpdateStatus(ctx context.Context, callID string, status call.Status) (*call.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM call_records WHERE call_id = ?", callID))
	if err != nil {
		return nil, err
	}
	if rec.Status == status {
		return rec, nil
	}
	if !rec.Status.CanTransitionTo(status) {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, status)
	}

	now := time.Now().UTC()
	var endedAt *time.Time
	if status.IsTerminal() {
		endedAt = &now
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE call_records SET status = ?, ended_at = ?, updated_at = ? WHERE call_id = ?",
		status.String(), endedAt, now, callID,
	); err != nil {
		return nil, fmt.Errorf("failed to update call status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}

	rec.Status = status
	rec.EndedAt = endedAt
	r.feed.publish(call.RecordChange{Op: call.ChangeUpdate, Record: *rec})
	return rec, nil
}

// SetSessionAddress fills the session address of a record that has none.
func (r *SQLiteRecordRepo) SetSessionAddress(ctx context.Context, callID, address string) (*call.Record, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE call_records SET session_address = ?, updated_at = ? WHERE call_id = ? AND session_address = ''",
		address, time.Now().UTC(), callID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set session address: %w", err)
	}

	rec, err := r.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.feed.publish(call.RecordChange{Op: call.ChangeUpdate, Record: *rec})
	}
	return rec, nil
}

func (r *SQLiteRecordRepo) ListForUser(ctx context.Context, userID string, limit int) ([]call.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM call_records WHERE caller_id = ? OR callee_id = ? ORDER BY started_at DESC LIMIT ?",
		userID, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []call.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// ListRinging returns ringing calls addressed to calleeID that started after since.
func (r *SQLiteRecordRepo) ListRinging(ctx context.Context, calleeID string, since time.Time) ([]call.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM call_records WHERE callee_id = ? AND status = ? AND started_at >= ? ORDER BY started_at DESC",
		calleeID, call.StatusRinging.String(), since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []call.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Subscribe streams changes to records where userID is a participant.
func (r *SQLiteRecordRepo) Subscribe(ctx context.Context, userID string) (<-chan call.RecordChange, error) {
	return r.feed.subscribe(ctx, func(c call.RecordChange) bool {
		return c.Record.Involves(userID)
	}), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*call.Record, error) {
	var rec call.Record
	var callType, status string
	var endedAt sql.NullTime

	err := row.Scan(
		&rec.CallID, &rec.CallerID, &rec.CalleeID, &callType, &status,
		&rec.SessionAddress, &rec.CallerDisplayName, &rec.StartedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rec.CallType, err = call.ParseType(callType); err != nil {
		return nil, err
	}
	if rec.Status, err = call.ParseStatus(status); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return &rec, nil
}

// SQLiteSignalRepo implements SignalRepository.
type SQLiteSignalRepo struct {
	db   *sql.DB
	feed *feed[call.Signal]
}

func (r *SQLiteSignalRepo) Publish(ctx context.Context, sig *call.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_signals
		(call_id, from_user_id, to_user_id, signal_type, session_address, call_type, caller_display_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sig.CallID, sig.FromUserID, sig.ToUserID, sig.Type.String(),
		sig.Payload.SessionAddress, sig.Payload.CallType.String(), sig.Payload.CallerDisplayName, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	r.feed.publish(*sig)
	return nil
}

// ListForCall returns every signal sent for a call, oldest first.
func (r *SQLiteSignalRepo) ListForCall(ctx context.Context, callID string) ([]call.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT call_id, from_user_id, to_user_id, signal_type, session_address, call_type, caller_display_name, created_at
		FROM call_signals WHERE call_id = ? ORDER BY id ASC
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []call.Signal
	for rows.Next() {
		var sig call.Signal
		var sigType, callType string
		err := rows.Scan(&sig.CallID, &sig.FromUserID, &sig.ToUserID, &sigType,
			&sig.Payload.SessionAddress, &callType, &sig.Payload.CallerDisplayName, &sig.CreatedAt)
		if err != nil {
			return nil, err
		}
		if sig.Type, err = call.ParseSignalType(sigType); err != nil {
			return nil, err
		}
		if err := sig.Payload.CallType.UnmarshalText([]byte(callType)); err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// Subscribe streams signals addressed to userID.
func (r *SQLiteSignalRepo) Subscribe(ctx context.Context, userID string) (<-chan call.Signal, error) {
	return r.feed.subscribe(ctx, func(s call.Signal) bool {
		return s.ToUserID == userID
	}), nil
}

// SQLitePendingRepo implements PendingRepository on the kv table.
type SQLitePendingRepo struct {
	db *sql.DB
}

// Save overwrites the pending slot.
func (r *SQLitePendingRepo) Save(ctx context.Context, snap call.PendingSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal pending call: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, PendingCallKey, string(data), time.Now().UTC())
	return err
}

func (r *SQLitePendingRepo) Peek(ctx context.Context) (*call.PendingSnapshot, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", PendingCallKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(value)
}

// Take reads and clears the pending slot in one statement, so a snapshot is
// handed out at most once.
func (r *SQLitePendingRepo) Take(ctx context.Context) (*call.PendingSnapshot, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "DELETE FROM kv WHERE key = ? RETURNING value", PendingCallKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(value)
}

func decodeSnapshot(value string) (*call.PendingSnapshot, error) {
	var snap call.PendingSnapshot
	if err := json.Unmarshal([]byte(value), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode pending call: %w", err)
	}
	return &snap, nil
}

// SQLiteStateRepo implements StateRepository.
type SQLiteStateRepo struct {
	db *sql.DB
}

func (r *SQLiteStateRepo) GetState(ctx context.Context) (*Session, error) {
	var sess Session
	var s string
	err := r.db.QueryRowContext(ctx, "SELECT state, call_id, updated_at FROM coordinator_state WHERE id = 1").
		Scan(&s, &sess.CallID, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.State = state.State(s)
	return &sess, nil
}

func (r *SQLiteStateRepo) SaveState(ctx context.Context, s state.State, callID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE coordinator_state SET state = ?, call_id = ?, updated_at = ? WHERE id = 1",
		string(s), callID, time.Now().UTC(),
	)
	return err
}

func (r *SQLiteStateRepo) LogTransition(ctx context.Context, callID string, from, to state.State, trigger, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transitions (call_id, from_state, to_state, trigger, timestamp, error) VALUES (?, ?, ?, ?, ?, ?)",
		callID, string(from), string(to), trigger, time.Now().UTC(), errMsg,
	)
	return err
}

// GetTransitionHistory returns the latest transitions, optionally for one call.
func (r *SQLiteStateRepo) GetTransitionHistory(ctx context.Context, callID string, limit int) ([]Transition, error) {
	query := "SELECT id, call_id, from_state, to_state, trigger, timestamp, error FROM transitions"
	args := []any{}
	if callID != "" {
		query += " WHERE call_id = ?"
		args = append(args, callID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var from, to string
		err := rows.Scan(&t.ID, &t.CallID, &from, &to, &t.Trigger, &t.Timestamp, &t.Error)
		if err != nil {
			return nil, err
		}
		t.FromState = state.State(from)
		t.ToState = state.State(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
