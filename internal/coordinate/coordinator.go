package coordinate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotLeader reports that the calling tab does not hold leadership.
	ErrNotLeader = errors.New("not the leader tab")
	// ErrStaleWrite reports a shared-state version at or below the current one.
	ErrStaleWrite = errors.New("stale shared-state version")
	// ErrNoState reports that no shared state exists for the scope.
	ErrNoState = errors.New("no shared state")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// LeaderState is the current leadership record for one (user, device) pair.
type LeaderState struct {
	LeaderTabID   string
	Priority      int
	LastHeartbeat time.Time
}

// SharedState is one leader-published state record.
type SharedState struct {
	Scope     string
	Version   int64
	Payload   []byte
	UpdatedBy string
	UpdatedAt time.Time
}

// A tab takes leadership when the slot is empty, the incumbent's heartbeat
// is stale, or the candidate outranks the incumbent. Re-registration by the
// incumbent refreshes its heartbeat.
const registerScript = `
local tab = ARGV[1]
local prio = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local timeout = tonumber(ARGV[4])

local cur = redis.call("HGET", KEYS[1], "tab")
local elect = false

if not cur then
  elect = true
else
  local hb = tonumber(redis.call("HGET", KEYS[1], "hb")) or 0
  local cur_prio = tonumber(redis.call("HGET", KEYS[1], "prio")) or 0
  if cur == tab then
    elect = true
  elseif now - hb > timeout then
    elect = true
  elseif prio > cur_prio then
    elect = true
  end
end

if elect then
  redis.call("HSET", KEYS[1], "tab", tab, "prio", prio, "hb", now)
  redis.call("PEXPIRE", KEYS[1], timeout * 3)
  return {1, tab, prio, now}
end

local hb = tonumber(redis.call("HGET", KEYS[1], "hb")) or 0
local cur_prio = tonumber(redis.call("HGET", KEYS[1], "prio")) or 0
return {0, cur, cur_prio, hb}
`

var registerLua = redis.NewScript(registerScript)

const heartbeatScript = `
local cur = redis.call("HGET", KEYS[1], "tab")
if cur ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "hb", ARGV[2])
redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[3]) * 3)
return 1
`

var heartbeatLua = redis.NewScript(heartbeatScript)

const resignScript = `
local cur = redis.call("HGET", KEYS[1], "tab")
if cur ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`

var resignLua = redis.NewScript(resignScript)

// Writes must carry a strictly greater version; the leader check is skipped
// when force is set (session-termination cleanup paths).
const publishScript = `
local tab = ARGV[1]
local version = tonumber(ARGV[2])
local payload = ARGV[3]
local now = tonumber(ARGV[4])
local force = ARGV[5]
local timeout = tonumber(ARGV[6])

if force ~= "1" then
  local cur_tab = redis.call("HGET", KEYS[2], "tab")
  if cur_tab ~= tab then
    return {-1}
  end
  local hb = tonumber(redis.call("HGET", KEYS[2], "hb")) or 0
  if now - hb > timeout then
    return {-1}
  end
end

local cur_ver = tonumber(redis.call("HGET", KEYS[1], "ver")) or 0
if version <= cur_ver then
  return {0, cur_ver}
end

redis.call("HSET", KEYS[1], "ver", version, "payload", payload, "by", tab, "updated", now)
return {1, version}
`

var publishLua = redis.NewScript(publishScript)

// Coordinator arbitrates which browser tab of a (user, device) pair acts as
// leader and guards the shared state leaders publish. All decisions run as
// Lua scripts so tabs on different server instances agree.
type Coordinator struct {
	redis   redis.UniversalClient
	timeout time.Duration
}

func NewCoordinator(redisClient redis.UniversalClient, heartbeatTimeout time.Duration) *Coordinator {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 10 * time.Second
	}
	return &Coordinator{
		redis:   redisClient,
		timeout: heartbeatTimeout,
	}
}

func leaderKey(userID, deviceID string) string { return "alp:" + userID + ":" + deviceID }
func stateKey(userID, scope string) string     { return "ass:" + userID + ":" + scope }

// Register makes the tab a leadership candidate. Returns the resulting
// leader state and whether the caller now leads.
func (c *Coordinator) Register(ctx context.Context, userID, deviceID, tabID string, priority int) (LeaderState, bool, error) {
	result, err := registerLua.Run(
		ctx,
		c.redis,
		[]string{leaderKey(userID, deviceID)},
		tabID,
		priority,
		time.Now().UnixMilli(),
		c.timeout.Milliseconds(),
	).Result()
	if err != nil {
		return LeaderState{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) < 4 {
		return LeaderState{}, false, fmt.Errorf("%w: invalid register response", ErrRedisUnavailable)
	}

	won := scriptInt(parts[0]) == 1
	state := LeaderState{
		LeaderTabID:   scriptString(parts[1]),
		Priority:      int(scriptInt(parts[2])),
		LastHeartbeat: time.UnixMilli(scriptInt(parts[3])),
	}
	return state, won, nil
}

// Heartbeat refreshes the caller's leadership. Only the current leader may
// heartbeat; anyone else gets ErrNotLeader and should re-register.
func (c *Coordinator) Heartbeat(ctx context.Context, userID, deviceID, tabID string) error {
	result, err := heartbeatLua.Run(
		ctx,
		c.redis,
		[]string{leaderKey(userID, deviceID)},
		tabID,
		time.Now().UnixMilli(),
		c.timeout.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if result == 0 {
		return ErrNotLeader
	}
	return nil
}

// Resign releases leadership if the caller holds it. The next Register wins
// the empty slot immediately instead of waiting out the heartbeat timeout.
func (c *Coordinator) Resign(ctx context.Context, userID, deviceID, tabID string) error {
	if err := resignLua.Run(
		ctx,
		c.redis,
		[]string{leaderKey(userID, deviceID)},
		tabID,
	).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Current returns the leadership record, or a zero state when no leader is
// registered. A stale heartbeat is reported as leaderless.
func (c *Coordinator) Current(ctx context.Context, userID, deviceID string) (LeaderState, error) {
	fields, err := c.redis.HGetAll(ctx, leaderKey(userID, deviceID)).Result()
	if err != nil {
		return LeaderState{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return LeaderState{}, nil
	}

	hb, _ := strconv.ParseInt(fields["hb"], 10, 64)
	prio, _ := strconv.Atoi(fields["prio"])
	state := LeaderState{
		LeaderTabID:   fields["tab"],
		Priority:      prio,
		LastHeartbeat: time.UnixMilli(hb),
	}
	if time.Since(state.LastHeartbeat) > c.timeout {
		return LeaderState{}, nil
	}
	return state, nil
}

// Publish writes a shared-state version for the user's scope. The write is
// rejected with ErrNotLeader unless the tab leads the (user, device) pair,
// or with ErrStaleWrite when the version does not advance. force bypasses
// the leader check.
func (c *Coordinator) Publish(
	ctx context.Context,
	userID, deviceID, tabID, scope string,
	version int64,
	payload []byte,
	force bool,
) (int64, error) {
	forceArg := "0"
	if force {
		forceArg = "1"
	}

	result, err := publishLua.Run(
		ctx,
		c.redis,
		[]string{stateKey(userID, scope), leaderKey(userID, deviceID)},
		tabID,
		version,
		payload,
		time.Now().UnixMilli(),
		forceArg,
		c.timeout.Milliseconds(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, fmt.Errorf("%w: invalid publish response", ErrRedisUnavailable)
	}

	switch scriptInt(parts[0]) {
	case -1:
		return 0, ErrNotLeader
	case 0:
		return scriptInt(parts[1]), ErrStaleWrite
	case 1:
		return version, nil
	default:
		return 0, fmt.Errorf("%w: unknown publish status", ErrRedisUnavailable)
	}
}

// GetState returns the current shared state for the user's scope.
func (c *Coordinator) GetState(ctx context.Context, userID, scope string) (SharedState, error) {
	fields, err := c.redis.HGetAll(ctx, stateKey(userID, scope)).Result()
	if err != nil {
		return SharedState{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return SharedState{}, ErrNoState
	}

	ver, _ := strconv.ParseInt(fields["ver"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated"], 10, 64)
	return SharedState{
		Scope:     scope,
		Version:   ver,
		Payload:   []byte(fields["payload"]),
		UpdatedBy: fields["by"],
		UpdatedAt: time.UnixMilli(updated),
	}, nil
}

// ClearState removes the shared state for a scope.
func (c *Coordinator) ClearState(ctx context.Context, userID, scope string) error {
	if err := c.redis.Del(ctx, stateKey(userID, scope)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func scriptString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func scriptInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
