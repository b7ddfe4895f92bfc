package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps backend failures of the offline event store.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Atomic drain: read everything, delete the key, return the items. Two
// concurrent drains cannot both see the same event.
const drainScript = `
local items = redis.call("LRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
return items
`

var drainLua = redis.NewScript(drainScript)

// OfflineStore queues serialized events for users with no live connection.
// One Redis list per user, capped and TTL-bound, drained exactly once on
// the next connect.
type OfflineStore struct {
	redis  redis.UniversalClient
	ttl    time.Duration
	maxLen int64
}

func NewOfflineStore(redisClient redis.UniversalClient, ttl time.Duration, maxLen int) *OfflineStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxLen <= 0 {
		maxLen = 256
	}
	return &OfflineStore{
		redis:  redisClient,
		ttl:    ttl,
		maxLen: int64(maxLen),
	}
}

func offlineKey(userID string) string { return "aoe:" + userID }

// Append queues one serialized event for the user. Oldest events fall off
// when the cap is exceeded.
func (s *OfflineStore) Append(ctx context.Context, userID string, data []byte) error {
	key := offlineKey(userID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -s.maxLen, -1)
		pipe.PExpire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Drain atomically removes and returns all queued events for the user, in
// the order they were appended.
func (s *OfflineStore) Drain(ctx context.Context, userID string) ([][]byte, error) {
	result, err := drainLua.Run(ctx, s.redis, []string{offlineKey(userID)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	items, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid drain response", ErrRedisUnavailable)
	}

	out := make([][]byte, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}

// Pending reports how many events are queued for the user.
func (s *OfflineStore) Pending(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.LLen(ctx, offlineKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}
