package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/check-cx/internal/check"
)

const (
	redisKeyPrefix    = "check:history:"
	redisQueryTimeout = 5 * time.Second
)

// RedisStore keeps one ZSET ring per target, scored by the check timestamp in
// unix milliseconds. Members carry the full JSON-encoded record, so fetches
// need no config join.
//
// All operations degrade gracefully: errors are logged and the caller sees an
// empty snapshot or a dropped append, never an error.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisStoreFromClient wraps an existing Redis client. The caller owns the
// client lifecycle.
func NewRedisStoreFromClient(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log}
}

// NewRedisStoreFromURL parses redisURL, creates a client, verifies the
// connection with a PING, and returns a RedisStore.
func NewRedisStoreFromURL(ctx context.Context, redisURL string, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}

	return NewRedisStoreFromClient(client, log), nil
}

func (s *RedisStore) Fetch(ctx context.Context, allowedIDs []string) check.HistorySnapshot {
	if allowedIDs != nil && len(allowedIDs) == 0 {
		return check.HistorySnapshot{}
	}

	ctx, cancel := context.WithTimeout(ctx, redisQueryTimeout)
	defer cancel()

	keys := make([]string, 0, len(allowedIDs))
	if allowedIDs == nil {
		var err error
		keys, err = s.scanRingKeys(ctx)
		if err != nil {
			s.log.Warn("history_fetch_error", slog.String("error", err.Error()))
			return check.HistorySnapshot{}
		}
	} else {
		for _, id := range allowedIDs {
			keys = append(keys, redisKeyPrefix+id)
		}
	}

	snap := make(check.HistorySnapshot)
	for _, key := range keys {
		members, err := s.client.ZRevRange(ctx, key, 0, int64(check.HistoryLimit-1)).Result()
		if err != nil {
			s.log.Warn("history_fetch_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return check.HistorySnapshot{}
		}
		if len(members) == 0 {
			continue
		}

		ring := make([]check.Result, 0, len(members))
		for _, raw := range members {
			var r check.Result
			if err := json.Unmarshal([]byte(raw), &r); err != nil {
				s.log.Warn("history_decode_error",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				continue
			}
			// Historical items never carry the official status.
			r.Official = nil
			ring = append(ring, r)
		}
		if len(ring) > 0 {
			SortNewestFirst(ring)
			snap[strings.TrimPrefix(key, redisKeyPrefix)] = capRing(ring, check.HistoryLimit)
		}
	}
	return snap
}

func (s *RedisStore) Append(ctx context.Context, results []check.Result) {
	rows := persistable(results)
	if len(rows) == 0 {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, redisQueryTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	for _, r := range rows {
		raw, err := json.Marshal(r)
		if err != nil {
			s.log.Warn("history_encode_error", slog.String("id", r.ID), slog.String("error", err.Error()))
			continue
		}
		pipe.ZAdd(opCtx, redisKeyPrefix+r.ID, redis.Z{
			Score:  float64(r.CheckedAt.UnixMilli()),
			Member: string(raw),
		})
	}

	if _, err := pipe.Exec(opCtx); err != nil {
		// Insert failed: skip the prune, the ring may transiently exceed the cap.
		s.log.Warn("history_append_error", slog.String("error", err.Error()))
		return
	}

	s.Prune(ctx, check.HistoryLimit)
}

func (s *RedisStore) Prune(ctx context.Context, limit int) {
	ctx, cancel := context.WithTimeout(ctx, redisQueryTimeout)
	defer cancel()

	keys, err := s.scanRingKeys(ctx)
	if err != nil {
		s.log.Warn("history_prune_error", slog.String("error", err.Error()))
		return
	}

	for _, key := range keys {
		// Keep the `limit` highest-scored (newest) members.
		if err := s.client.ZRemRangeByRank(ctx, key, 0, int64(-(limit + 1))).Err(); err != nil {
			s.log.Warn("history_prune_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *RedisStore) scanRingKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Client exposes the underlying Redis client for subsystems that share the
// connection (rate limiting). The store keeps ownership.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
