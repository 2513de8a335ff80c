package wake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
)

// Push is a wake message sent to a callee whose coordinator is not running.
type Push struct {
	ToUserID          string    `json:"to_user_id"`
	CallID            string    `json:"call_id"`
	CallerID          string    `json:"caller_id"`
	CallerDisplayName string    `json:"caller_display_name,omitempty"`
	CallType          call.Type `json:"call_type"`
	SessionAddress    string    `json:"session_address,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// Validate checks the fields a receiving device needs.
func (p *Push) Validate() error {
	switch {
	case p.ToUserID == "":
		return errors.New("push recipient is required")
	case p.CallID == "":
		return errors.New("push call_id is required")
	case p.CallerID == "":
		return errors.New("push caller_id is required")
	}
	return nil
}

// Snapshot converts the push into the pending call persisted on wake.
func (p *Push) Snapshot(savedAt time.Time) call.PendingSnapshot {
	return call.PendingSnapshot{
		CallID:            p.CallID,
		CallerID:          p.CallerID,
		CalleeID:          p.ToUserID,
		CallerDisplayName: p.CallerDisplayName,
		CallType:          p.CallType,
		SessionAddress:    p.SessionAddress,
		StartedAt:         p.SentAt,
		SavedAt:           savedAt,
	}
}

// Pusher delivers wake pushes.
type Pusher interface {
	DeliverWake(ctx context.Context, p Push) error
}

// LogPusher only logs pushes. Used when no push transport is configured.
type LogPusher struct {
	log *slog.Logger
}

func NewLogPusher() *LogPusher {
	return &LogPusher{log: slog.Default().With("component", "push")}
}

func (l *LogPusher) DeliverWake(_ context.Context, p Push) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.log.Info("wake push", "to", p.ToUserID, "call_id", p.CallID, "call_type", p.CallType)
	return nil
}

const pushTTL = 2 * time.Minute

// RedisPusher queues pushes on a per-user Redis list.
type RedisPusher struct {
	rdb *redis.Client
}

func NewRedisPusher(rdb *redis.Client) *RedisPusher {
	return &RedisPusher{rdb: rdb}
}

func pushKey(userID string) string {
	return "push:wake:" + userID
}

func (r *RedisPusher) DeliverWake(ctx context.Context, p Push) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode push: %w", err)
	}

	key := pushKey(p.ToUserID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, pushTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to queue push: %w", err)
	}
	return nil
}

// Receive blocks up to timeout for the next push addressed to userID.
// It returns (nil, nil) when nothing arrived.
func (r *RedisPusher) Receive(ctx context.Context, userID string, timeout time.Duration) (*Push, error) {
	res, err := r.rdb.BLPop(ctx, timeout, pushKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to receive push: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}
	return decodePush(res[1])
}

func decodePush(raw string) (*Push, error) {
	var p Push
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode push: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
