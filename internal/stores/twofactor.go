package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound = errors.New("two-factor challenge not found")
	ErrChallengeExpired  = errors.New("two-factor challenge expired")
	ErrChallengeExceeded = errors.New("two-factor challenge attempts exceeded")
	ErrChallengeBackend  = errors.New("two-factor challenge backend unavailable")
)

// TwoFactorChallenge is the pending state between a successful password
// check and code confirmation. The login context is carried along so the
// session can be created exactly as the original request asked.
type TwoFactorChallenge struct {
	UserID      string
	Fingerprint string
	DeviceName  string
	TabID       string
	RememberMe  bool
	TrustDevice bool
	ExpiresAt   int64
	Attempts    int
}

// TwoFactorChallengeStore persists pending login challenges in Redis.
type TwoFactorChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTwoFactorChallengeStore(redisClient redis.UniversalClient, prefix string) *TwoFactorChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	return &TwoFactorChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *TwoFactorChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *TwoFactorChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *TwoFactorChallenge,
	ttl time.Duration,
) error {
	key := s.key(challengeID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, challengeFields(record))
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *TwoFactorChallengeStore) Get(ctx context.Context, challengeID string) (*TwoFactorChallenge, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(challengeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if len(fields) == 0 {
		return nil, ErrChallengeNotFound
	}

	record, err := challengeFromFields(fields)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

func (s *TwoFactorChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the challenge's attempt counter under WATCH and
// deletes the challenge when the budget is spent. Returns true when this
// failure exhausted the challenge.
func (s *TwoFactorChallengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return redis.Nil
			}

			record, err := challengeFromFields(fields)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			record.Attempts++
			if record.Attempts >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "attempts", record.Attempts)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrChallengeNotFound
}

func challengeFields(record *TwoFactorChallenge) map[string]interface{} {
	remember := "0"
	if record.RememberMe {
		remember = "1"
	}
	trust := "0"
	if record.TrustDevice {
		trust = "1"
	}
	return map[string]interface{}{
		"uid":      record.UserID,
		"fp":       record.Fingerprint,
		"devname":  record.DeviceName,
		"tab":      record.TabID,
		"remember": remember,
		"trust":    trust,
		"expires":  record.ExpiresAt,
		"attempts": record.Attempts,
	}
}

func challengeFromFields(fields map[string]string) (*TwoFactorChallenge, error) {
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, errors.New("invalid two-factor challenge record")
	}
	attempts, _ := strconv.Atoi(fields["attempts"])

	return &TwoFactorChallenge{
		UserID:      fields["uid"],
		Fingerprint: fields["fp"],
		DeviceName:  fields["devname"],
		TabID:       fields["tab"],
		RememberMe:  fields["remember"] == "1",
		TrustDevice: fields["trust"] == "1",
		ExpiresAt:   expires,
		Attempts:    attempts,
	}, nil
}
