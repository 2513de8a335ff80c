package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
)

// recordsChannel is the NOTIFY channel carrying call record changes.
const recordsChannel = "call_records"

// PostgresPoolConfig controls database/sql pool behavior.
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = 10
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// PostgresRecordRepo implements RecordRepository on a shared Postgres
// database. Changes are delivered with LISTEN/NOTIFY so every participant's
// device observes them.
type PostgresRecordRepo struct {
	db  *sql.DB
	dsn string
	log *slog.Logger
}

// NewPostgresRecordRepo opens the database, verifies connectivity and installs
// the schema and notify trigger. dsn must not be logged.
func NewPostgresRecordRepo(ctx context.Context, dsn string, pool PostgresPoolConfig) (*PostgresRecordRepo, error) {
	pool = pool.withDefaults()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if err := runPostgresMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresRecordRepo{db: db, dsn: dsn, log: slog.Default()}, nil
}

// Close closes the connection pool.
func (r *PostgresRecordRepo) Close() error {
	return r.db.Close()
}

func runPostgresMigrations(ctx context.Context, db *sql.DB) error {
	migration := `
	CREATE TABLE IF NOT EXISTS call_records (
		call_id TEXT PRIMARY KEY,
		caller_id TEXT NOT NULL,
		callee_id TEXT NOT NULL,
		call_type TEXT NOT NULL,
		status TEXT NOT NULL,
		session_address TEXT NOT NULL DEFAULT '',
		caller_display_name TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_call_records_caller ON call_records(caller_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_call_records_callee ON call_records(callee_id, started_at DESC);

	CREATE OR REPLACE FUNCTION notify_call_record() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('call_records', json_build_object(
			'call_id', NEW.call_id,
			'op', lower(TG_OP),
			'caller_id', NEW.caller_id,
			'callee_id', NEW.callee_id
		)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS call_records_notify ON call_records;
	CREATE TRIGGER call_records_notify
		AFTER INSERT OR UPDATE ON call_records
		FOR EACH ROW EXECUTE FUNCTION notify_call_record();
	`
	_, err := db.ExecContext(ctx, migration)
	return err
}

func (r *PostgresRecordRepo) Insert(ctx context.Context, rec *call.Record) error {
	if err := rec.ValidateInsert(); err != nil {
		return err
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO call_records
		(call_id, caller_id, callee_id, call_type, status, session_address, caller_display_name, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id) DO NOTHING
	`,
		rec.CallID, rec.CallerID, rec.CalleeID, rec.CallType.String(), rec.Status.String(),
		rec.SessionAddress, rec.CallerDisplayName, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *PostgresRecordRepo) Get(ctx context.Context, callID string) (*call.Record, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM call_records WHERE call_id = $1", callID)
	return scanRecord(row)
}

func (r *PostgresRecordRepo) UpdateStatus(ctx context.Context, callID string, status call.Status) (*call.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM call_records WHERE call_id = $1 FOR UPDATE", callID))
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
		"UPDATE call_records SET status = $1, ended_at = $2, updated_at = $3 WHERE call_id = $4",
		status.String(), endedAt, now, callID,
	); err != nil {
		return nil, fmt.Errorf("failed to update call status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}

	rec.Status = status
	rec.EndedAt = endedAt
	return rec, nil
}

func (r *PostgresRecordRepo) SetSessionAddress(ctx context.Context, callID, address string) (*call.Record, error) {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE call_records SET session_address = $1, updated_at = now() WHERE call_id = $2 AND session_address = ''",
		address, callID,
	); err != nil {
		return nil, fmt.Errorf("failed to set session address: %w", err)
	}
	return r.Get(ctx, callID)
}

func (r *PostgresRecordRepo) ListForUser(ctx context.Context, userID string, limit int) ([]call.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM call_records WHERE caller_id = $1 OR callee_id = $1 ORDER BY started_at DESC LIMIT $2",
		userID, limit,
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
func (r *PostgresRecordRepo) ListRinging(ctx context.Context, calleeID string, since time.Time) ([]call.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM call_records WHERE callee_id = $1 AND status = $2 AND started_at >= $3 ORDER BY started_at DESC",
		calleeID, call.StatusRinging.String(), since,
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

// recordNotification is the payload written by notify_call_record.
type recordNotification struct {
	CallID   string `json:"call_id"`
	Op       string `json:"op"`
	CallerID string `json:"caller_id"`
	CalleeID string `json:"callee_id"`
}

func parseRecordNotification(payload string) (recordNotification, call.ChangeOp, error) {
	var n recordNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, 0, fmt.Errorf("failed to decode notification: %w", err)
	}
	switch n.Op {
	case "insert":
		return n, call.ChangeInsert, nil
	case "update":
		return n, call.ChangeUpdate, nil
	default:
		return n, 0, fmt.Errorf("unexpected notification op %q", n.Op)
	}
}

// Subscribe listens on a dedicated connection. The channel is closed when ctx
// ends or the connection fails; callers resubscribe.
func (r *PostgresRecordRepo) Subscribe(ctx context.Context, userID string) (<-chan call.RecordChange, error) {
	conn, err := pgx.Connect(ctx, r.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+recordsChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	out := make(chan call.RecordChange, feedBufferSize)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn("record feed interrupted", "error", err)
				}
				return
			}

			note, op, err := parseRecordNotification(n.Payload)
			if err != nil {
				r.log.Warn("ignoring record notification", "error", err)
				continue
			}
			if note.CallerID != userID && note.CalleeID != userID {
				continue
			}

			rec, err := r.Get(ctx, note.CallID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.log.Warn("failed to load changed record", "call_id", note.CallID, "error", err)
				}
				continue
			}

			select {
			case out <- call.RecordChange{Op: op, Record: *rec}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
