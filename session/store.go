package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps backend failures of the session store.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrCorruptRecord is returned when a session hash cannot be parsed.
var ErrCorruptRecord = errors.New("corrupt session record")

// ErrNotFound is returned when no record exists for the session ID.
var ErrNotFound = errors.New("session not found")

// ErrTerminated is returned when the session record exists but has ended.
var ErrTerminated = errors.New("session terminated")

// ErrExpired is returned when the session's sliding expiry has passed.
var ErrExpired = errors.New("session expired")

// ErrRotateMismatch is returned when a refresh rotation presents a jti that
// is not the session's current one. The losing side of a concurrent
// rotation, and any replayed token, land here.
var ErrRotateMismatch = errors.New("refresh jti mismatch")

const (
	touchStatusNotFound int64 = 0
	touchStatusEnded    int64 = 1
	touchStatusExpired  int64 = 2
	touchStatusTouched  int64 = 3
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusEnded    int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusMismatch int64 = 3
	rotateStatusRotated  int64 = 4
)

const (
	terminateStatusMissing      int64 = 0
	terminateStatusTerminated   int64 = 1
	terminateStatusAlreadyEnded int64 = 2
)

// Sliding renewal. Expiry advances to now+window but never past the
// absolute deadline fixed at creation.
const touchScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local retention = tonumber(ARGV[3])

local active = redis.call("HGET", KEYS[1], "active")
if not active then
  return {0}
end
if active ~= "1" then
  return {1}
end

local expires = tonumber(redis.call("HGET", KEYS[1], "expires"))
if not expires then
  return {1}
end
if expires <= now then
  redis.call("HSET", KEYS[1], "active", "0", "reason", "expired", "ended", now)
  redis.call("PEXPIREAT", KEYS[1], now + retention)
  return {2}
end

local deadline = tonumber(redis.call("HGET", KEYS[1], "deadline")) or 0
local next_exp = now + window
if deadline > 0 and next_exp > deadline then
  next_exp = deadline
end

redis.call("HSET", KEYS[1], "activity", now, "expires", next_exp)
redis.call("PEXPIREAT", KEYS[1], next_exp + retention)
return {3, next_exp}
`

var touchLua = redis.NewScript(touchScript)

// Refresh rotation CAS. Exactly one of two concurrent rotations with the
// same jti observes a match; the loser sees a mismatch and the script has
// already terminated the session by the time it returns.
const rotateScript = `
local provided = ARGV[1]
local next_jti = ARGV[2]
local now = tonumber(ARGV[3])
local window = tonumber(ARGV[4])
local retention = tonumber(ARGV[5])

local active = redis.call("HGET", KEYS[1], "active")
if not active then
  return {0}
end
if active ~= "1" then
  return {1}
end

local expires = tonumber(redis.call("HGET", KEYS[1], "expires"))
if not expires or expires <= now then
  redis.call("HSET", KEYS[1], "active", "0", "reason", "expired", "ended", now)
  redis.call("PEXPIREAT", KEYS[1], now + retention)
  return {2}
end

local current = redis.call("HGET", KEYS[1], "rjti")
if current ~= provided then
  redis.call("HSET", KEYS[1], "active", "0", "reason", "refresh_replay", "ended", now)
  redis.call("PEXPIREAT", KEYS[1], now + retention)
  return {3}
end

local deadline = tonumber(redis.call("HGET", KEYS[1], "deadline")) or 0
local next_exp = now + window
if deadline > 0 and next_exp > deadline then
  next_exp = deadline
end

redis.call("HSET", KEYS[1], "rjti", next_jti, "activity", now, "expires", next_exp)
redis.call("PEXPIREAT", KEYS[1], next_exp + retention)
return {4, next_exp}
`

var rotateLua = redis.NewScript(rotateScript)

const terminateScript = `
local sid = ARGV[1]
local reason = ARGV[2]
local now = tonumber(ARGV[3])
local retention = tonumber(ARGV[4])

redis.call("SREM", KEYS[2], sid)
redis.call("SREM", KEYS[3], sid)

local active = redis.call("HGET", KEYS[1], "active")
if not active then
  return 0
end
if active ~= "1" then
  return 2
end

redis.call("HSET", KEYS[1], "active", "0", "reason", reason, "ended", now)
redis.call("PEXPIREAT", KEYS[1], now + retention)
return 1
`

var terminateLua = redis.NewScript(terminateScript)

// Config holds session store policy.
type Config struct {
	SlidingWindow       time.Duration
	MaxAbsoluteLifetime time.Duration
	EndedRetention      time.Duration
}

// Store is a Redis-backed session store handling persistence, sliding
// expiry with an absolute ceiling, atomic refresh rotation, and ended-record
// retention for post-mortem inspection.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redisClient redis.UniversalClient, prefix string, cfg Config) *Store {
	if cfg.EndedRetention <= 0 {
		cfg.EndedRetention = 24 * time.Hour
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *Store) deviceKey(deviceID string) string {
	return s.prefix + ":d:" + deviceID
}

// Create persists a new active session and indexes it under its user and
// device.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess.SessionID == "" || sess.UserID == "" {
		return ErrCorruptRecord
	}

	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastActivityAt.IsZero() {
		sess.LastActivityAt = sess.CreatedAt
	}
	if sess.AbsoluteDeadline.IsZero() {
		sess.AbsoluteDeadline = sess.CreatedAt.Add(s.config.MaxAbsoluteLifetime)
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = sess.CreatedAt.Add(s.config.SlidingWindow)
	}
	if sess.ExpiresAt.After(sess.AbsoluteDeadline) {
		sess.ExpiresAt = sess.AbsoluteDeadline
	}
	sess.Active = true

	key := s.key(sess.SessionID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, sess.toFields())
		pipe.PExpireAt(ctx, key, sess.ExpiresAt.Add(s.config.EndedRetention))
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		if sess.DeviceID != "" {
			pipe.SAdd(ctx, s.deviceKey(sess.DeviceID), sess.SessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get fetches a session without mutating it. Ended and expired sessions
// return ErrTerminated / ErrExpired together with the record, so callers can
// still inspect the end reason.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess, err := sessionFromFields(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if !sess.Active {
		return sess, ErrTerminated
	}
	if sess.Expired(time.Now()) {
		return sess, ErrExpired
	}

	return sess, nil
}

// Touch atomically records activity and slides the expiry forward, capped at
// the absolute deadline. Returns the new expiry.
func (s *Store) Touch(ctx context.Context, sessionID string) (time.Time, error) {
	result, err := touchLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		time.Now().UnixMilli(),
		s.config.SlidingWindow.Milliseconds(),
		s.config.EndedRetention.Milliseconds(),
	).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	code, extra, err := scriptStatus(result)
	if err != nil {
		return time.Time{}, err
	}

	switch code {
	case touchStatusNotFound:
		return time.Time{}, ErrNotFound
	case touchStatusEnded:
		return time.Time{}, ErrTerminated
	case touchStatusExpired:
		return time.Time{}, ErrExpired
	case touchStatusTouched:
		return time.UnixMilli(extra), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown touch status %d", ErrRedisUnavailable, code)
	}
}

// Rotate atomically swaps the session's current refresh jti for the next
// one, provided the caller holds the current one. A mismatch terminates the
// session before returning ErrRotateMismatch. On success the session's
// expiry slides like a Touch; the new expiry is returned.
func (s *Store) Rotate(ctx context.Context, sessionID, providedJTI, nextJTI string) (time.Time, error) {
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		providedJTI,
		nextJTI,
		time.Now().UnixMilli(),
		s.config.SlidingWindow.Milliseconds(),
		s.config.EndedRetention.Milliseconds(),
	).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	code, extra, err := scriptStatus(result)
	if err != nil {
		return time.Time{}, err
	}

	switch code {
	case rotateStatusNotFound:
		return time.Time{}, ErrNotFound
	case rotateStatusEnded:
		return time.Time{}, ErrTerminated
	case rotateStatusExpired:
		return time.Time{}, ErrExpired
	case rotateStatusMismatch:
		return time.Time{}, ErrRotateMismatch
	case rotateStatusRotated:
		return time.UnixMilli(extra), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, code)
	}
}

// Terminate ends the session with the given reason and removes it from its
// indexes. The record is kept for the retention window. Terminating an
// already ended or missing session is a no-op.
func (s *Store) Terminate(ctx context.Context, sessionID, userID, deviceID, reason string) error {
	_, err := terminateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.userKey(userID), s.deviceKey(deviceID)},
		sessionID,
		reason,
		time.Now().UnixMilli(),
		s.config.EndedRetention.Milliseconds(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// TerminateAllForUser ends every indexed session of the user, optionally
// sparing one session ID. Returns the IDs of sessions that were terminated.
func (s *Store) TerminateAllForUser(ctx context.Context, userID, reason, exceptSessionID string) ([]string, error) {
	return s.terminateIndexed(ctx, s.userKey(userID), userID, "", reason, exceptSessionID)
}

// TerminateAllForDevice ends every indexed session of the device.
func (s *Store) TerminateAllForDevice(ctx context.Context, userID, deviceID, reason string) ([]string, error) {
	return s.terminateIndexed(ctx, s.deviceKey(deviceID), userID, deviceID, reason, "")
}

func (s *Store) terminateIndexed(ctx context.Context, indexKey, userID, deviceID, reason, except string) ([]string, error) {
	sessionIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var terminated []string
	for _, sid := range sessionIDs {
		if sid == except {
			continue
		}

		// The device index is only known per session when terminating by
		// user, so resolve it from the record.
		did := deviceID
		if did == "" {
			if raw, err := s.redis.HGet(ctx, s.key(sid), "did").Result(); err == nil {
				did = raw
			}
		}

		if err := s.Terminate(ctx, sid, userID, did, reason); err != nil {
			return terminated, err
		}
		terminated = append(terminated, sid)
	}

	return terminated, nil
}

// ListForUser returns all indexed sessions of the user. Terminated sessions
// leave the index, so only live ones appear; their records remain readable
// via Get for the retention window.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	return s.listIndexed(ctx, s.userKey(userID))
}

// ListForDevice returns all indexed sessions of the device.
func (s *Store) ListForDevice(ctx context.Context, deviceID string) ([]*Session, error) {
	return s.listIndexed(ctx, s.deviceKey(deviceID))
}

func (s *Store) listIndexed(ctx context.Context, indexKey string) ([]*Session, error) {
	sessionIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.HGetAll(ctx, s.key(sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil || len(fields) == 0 {
			continue
		}
		sess, parseErr := sessionFromFields(sessionIDs[i], fields)
		if parseErr != nil {
			continue
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// ActiveSessionCount returns the number of indexed sessions for a user.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func scriptStatus(result interface{}) (int64, int64, error) {
	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, 0, fmt.Errorf("%w: invalid script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("%w: invalid script status", ErrRedisUnavailable)
	}
	var extra int64
	if len(parts) > 1 {
		if v, ok := parts[1].(int64); ok {
			extra = v
		}
	}
	return code, extra, nil
}
