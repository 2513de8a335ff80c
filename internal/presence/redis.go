package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps presence in shared keys so devices on different hosts agree.
//
//	presence:online:<user>     "1" with TTL
//	presence:last_seen:<user>  unix millis, no TTL
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func onlineKey(userID string) string   { return "presence:online:" + userID }
func lastSeenKey(userID string) string { return "presence:last_seen:" + userID }

func (r *Redis) Heartbeat(ctx context.Context, userID string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, onlineKey(userID), "1", r.ttl)
		p.Set(ctx, lastSeenKey(userID), now, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

func (r *Redis) SetOffline(ctx context.Context, userID string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, onlineKey(userID))
		p.Set(ctx, lastSeenKey(userID), now, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark offline: %w", err)
	}
	return nil
}

func (r *Redis) Lookup(ctx context.Context, userID string) (Presence, error) {
	vals, err := r.rdb.MGet(ctx, onlineKey(userID), lastSeenKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Presence{UserID: userID}, fmt.Errorf("failed to look up presence: %w", err)
	}
	return presenceFromValues(userID, vals), nil
}

func presenceFromValues(userID string, vals []interface{}) Presence {
	p := Presence{UserID: userID}
	if len(vals) != 2 {
		return p
	}
	p.Online = vals[0] != nil
	if s, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			p.LastSeen = time.UnixMilli(ms)
		}
	}
	return p
}
