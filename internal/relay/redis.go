// Package relay carries insert-only call signals between devices over Redis Streams.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
)

const (
	defaultMaxLen    = 1000
	defaultBlock     = 5 * time.Second
	defaultReadCount = 50
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisRelay publishes signals to a per-recipient stream and tails it.
type RedisRelay struct {
	rdb *redis.Client
	log *slog.Logger

	maxLen     int64
	block      time.Duration
	retryBase  time.Duration
	retryLimit time.Duration
}

// NewRedisRelay creates a relay on an open client.
func NewRedisRelay(rdb *redis.Client, retryBase, retryLimit time.Duration) *RedisRelay {
	return &RedisRelay{
		rdb:        rdb,
		log:        slog.Default(),
		maxLen:     defaultMaxLen,
		block:      defaultBlock,
		retryBase:  retryBase,
		retryLimit: retryLimit,
	}
}

func streamKey(userID string) string {
	return "call:signals:" + userID
}

// Publish appends sig to the recipient's stream.
func (r *RedisRelay) Publish(ctx context.Context, sig *call.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	values, err := encodeSignal(*sig)
	if err != nil {
		return err
	}

	err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(sig.ToUserID),
		MaxLen: r.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

// Subscribe tails the stream of signals addressed to userID, starting now.
// Read errors are retried with backoff until ctx ends.
func (r *RedisRelay) Subscribe(ctx context.Context, userID string) (<-chan call.Signal, error) {
	out := make(chan call.Signal, defaultReadCount)
	lastID := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryBase
	bo.MaxInterval = r.retryLimit
	bo.MaxElapsedTime = 0
	bo.Reset()

	go func() {
		defer close(out)

		for {
			streams, err := r.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{streamKey(userID), lastID},
				Count:   defaultReadCount,
				Block:   r.block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				delay := bo.NextBackOff()
				r.log.Warn("signal relay read failed", "error", err, "retry_in", delay)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return
				}
			}
			bo.Reset()

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					sig, err := decodeSignal(msg.Values)
					if err != nil {
						r.log.Warn("dropping malformed signal", "id", msg.ID, "error", err)
						continue
					}
					select {
					case out <- sig:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func encodeSignal(sig call.Signal) (map[string]interface{}, error) {
	payload, err := json.Marshal(sig.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal payload: %w", err)
	}
	return map[string]interface{}{
		"call_id":     sig.CallID,
		"from":        sig.FromUserID,
		"to":          sig.ToUserID,
		"signal_type": sig.Type.String(),
		"payload":     string(payload),
		"created_at":  sig.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func decodeSignal(values map[string]interface{}) (call.Signal, error) {
	field := func(key string) string {
		s, _ := values[key].(string)
		return s
	}

	var sig call.Signal
	sig.CallID = field("call_id")
	sig.FromUserID = field("from")
	sig.ToUserID = field("to")

	var err error
	if sig.Type, err = call.ParseSignalType(field("signal_type")); err != nil {
		return sig, err
	}
	if err := json.Unmarshal([]byte(field("payload")), &sig.Payload); err != nil {
		return sig, fmt.Errorf("failed to decode signal payload: %w", err)
	}
	if ts := field("created_at"); ts != "" {
		if sig.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return sig, fmt.Errorf("invalid created_at: %w", err)
		}
	}
	return sig, sig.Validate()
}
