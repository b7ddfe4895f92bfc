package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeNotFound = errors.New("verification code not found")
	ErrCodeExpired  = errors.New("verification code expired")
	ErrCodeInvalid  = errors.New("verification code invalid")
	ErrCodeExceeded = errors.New("verification code attempts exceeded")
	ErrCodeBackend  = errors.New("verification code backend unavailable")
)

// DeviceCodeStore persists pending device verification codes. One code is
// live per device at a time; issuing a new one replaces the old.
//
// An exhausted code is kept (flagged, not deleted) until its natural expiry,
// so a correct guess after the attempt budget is spent still fails with
// ErrCodeExceeded instead of succeeding.
type DeviceCodeStore struct {
	redis redis.UniversalClient
}

func NewDeviceCodeStore(redisClient redis.UniversalClient) *DeviceCodeStore {
	return &DeviceCodeStore{redis: redisClient}
}

func codeKey(deviceID string) string { return "advc:" + deviceID }

// Issue stores a fresh code for the device, replacing any previous one and
// resetting the attempt counter.
func (s *DeviceCodeStore) Issue(ctx context.Context, deviceID, code string, ttl time.Duration) error {
	key := codeKey(deviceID)
	expiresAt := time.Now().Add(ttl).Unix()

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"code":      code,
			"expires":   expiresAt,
			"attempts":  0,
			"exhausted": "0",
		})
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return nil
}

// Verify checks the submitted code under WATCH. On success the record is
// consumed. Wrong submissions burn an attempt; the attempt that spends the
// budget flags the record exhausted, and every later submission, correct or
// not, fails with ErrCodeExceeded until the code expires.
func (s *DeviceCodeStore) Verify(ctx context.Context, deviceID, submitted string, maxAttempts int) error {
	const maxRetries = 4
	key := codeKey(deviceID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return redis.Nil
			}

			expires, parseErr := strconv.ParseInt(fields["expires"], 10, 64)
			if parseErr != nil {
				return ErrCodeNotFound
			}
			if time.Now().Unix() > expires {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrCodeExpired
			}

			if fields["exhausted"] == "1" {
				return ErrCodeExceeded
			}

			match := subtle.ConstantTimeCompare([]byte(fields["code"]), []byte(submitted)) == 1
			if match {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			attempts, _ := strconv.Atoi(fields["attempts"])
			attempts++
			exhaustedNow := attempts >= maxAttempts

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "attempts", attempts)
				if exhaustedNow {
					pipe.HSet(ctx, key, "exhausted", "1")
				}
				return nil
			})
			if err != nil {
				return err
			}
			if exhaustedNow {
				return ErrCodeExceeded
			}
			return ErrCodeInvalid
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrCodeNotFound
			}
			if errors.Is(err, ErrCodeExpired) ||
				errors.Is(err, ErrCodeInvalid) ||
				errors.Is(err, ErrCodeExceeded) ||
				errors.Is(err, ErrCodeNotFound) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrCodeBackend, err)
		}
		return nil
	}

	return ErrCodeBackend
}

// AttemptsUsed reports how many attempts have been burned on the live code.
func (s *DeviceCodeStore) AttemptsUsed(ctx context.Context, deviceID string) (int, error) {
	raw, err := s.redis.HGet(ctx, codeKey(deviceID), "attempts").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	attempts, _ := strconv.Atoi(raw)
	return attempts, nil
}
