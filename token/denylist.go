package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records revoked token IDs in Redis. Entries carry a TTL equal to
// the remaining lifetime of the revoked token, so the set cleans itself up:
// once the token would have expired anyway, the entry is pointless and Redis
// drops it.
type Denylist struct {
	redis redis.UniversalClient
}

func NewDenylist(redisClient redis.UniversalClient) *Denylist {
	return &Denylist{redis: redisClient}
}

func denyKey(jti string) string { return "adl:" + jti }

// Deny marks the jti revoked until expiresAt. A jti already expired is a
// no-op.
func (d *Denylist) Deny(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := d.redis.Set(ctx, denyKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsDenied reports whether the jti has been revoked.
func (d *Denylist) IsDenied(ctx context.Context, jti string) (bool, error) {
	err := d.redis.Get(ctx, denyKey(jti)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return true, nil
}
