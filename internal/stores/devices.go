package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceBackend  = errors.New("device backend unavailable")
)

// DeviceRecord is one known device of a user, keyed by a server-assigned ID
// and looked up by fingerprint hash at login time.
type DeviceRecord struct {
	DeviceID    string
	UserID      string
	Name        string
	Fingerprint string
	Trusted     bool
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// DeviceStore persists device trust records in Redis.
//
// Key layout:
//   - adv:<did>   — device hash
//   - advf:<uid>  — fingerprint hash -> device ID map
//   - advi:<uid>  — SET of the user's device IDs
type DeviceStore struct {
	redis redis.UniversalClient
}

func NewDeviceStore(redisClient redis.UniversalClient) *DeviceStore {
	return &DeviceStore{redis: redisClient}
}

func deviceKey(deviceID string) string   { return "adv:" + deviceID }
func deviceFpKey(userID string) string   { return "advf:" + userID }
func deviceListKey(userID string) string { return "advi:" + userID }

// Ensure finds the user's device for the fingerprint, creating an untrusted
// record when it is unknown. Returns the record and whether it was created.
// Concurrent first logins from the same device race on HSETNX; the loser
// adopts the winner's record.
func (s *DeviceStore) Ensure(ctx context.Context, userID, fingerprint, name string) (*DeviceRecord, bool, error) {
	existingID, err := s.redis.HGet(ctx, deviceFpKey(userID), fingerprint).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	if existingID != "" {
		record, err := s.Get(ctx, userID, existingID)
		if err != nil {
			return nil, false, err
		}
		return record, false, nil
	}

	deviceID := uuid.NewString()
	claimed, err := s.redis.HSetNX(ctx, deviceFpKey(userID), fingerprint, deviceID).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	if !claimed {
		winnerID, err := s.redis.HGet(ctx, deviceFpKey(userID), fingerprint).Result()
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
		}
		record, err := s.Get(ctx, userID, winnerID)
		if err != nil {
			return nil, false, err
		}
		return record, false, nil
	}

	now := time.Now()
	record := &DeviceRecord{
		DeviceID:    deviceID,
		UserID:      userID,
		Name:        name,
		Fingerprint: fingerprint,
		Trusted:     false,
		CreatedAt:   now,
		LastUsedAt:  now,
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, deviceKey(deviceID), deviceFields(record))
		pipe.SAdd(ctx, deviceListKey(userID), deviceID)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}

	return record, true, nil
}

// Get fetches one device and verifies it belongs to the user.
func (s *DeviceStore) Get(ctx context.Context, userID, deviceID string) (*DeviceRecord, error) {
	fields, err := s.redis.HGetAll(ctx, deviceKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	if len(fields) == 0 {
		return nil, ErrDeviceNotFound
	}

	record := deviceFromFields(deviceID, fields)
	if record.UserID != userID {
		return nil, ErrDeviceNotFound
	}
	return record, nil
}

// List returns all devices of the user.
func (s *DeviceStore) List(ctx context.Context, userID string) ([]*DeviceRecord, error) {
	deviceIDs, err := s.redis.SMembers(ctx, deviceListKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*DeviceRecord{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	if len(deviceIDs) == 0 {
		return []*DeviceRecord{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(deviceIDs))
	for i, did := range deviceIDs {
		cmds[i] = pipe.HGetAll(ctx, deviceKey(did))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}

	records := make([]*DeviceRecord, 0, len(deviceIDs))
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil || len(fields) == 0 {
			continue
		}
		records = append(records, deviceFromFields(deviceIDs[i], fields))
	}
	return records, nil
}

// MarkTrusted flips the device's trust bit.
func (s *DeviceStore) MarkTrusted(ctx context.Context, userID, deviceID string) error {
	if _, err := s.Get(ctx, userID, deviceID); err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, deviceKey(deviceID), "trusted", "1").Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	return nil
}

// TouchLastUsed records device activity.
func (s *DeviceStore) TouchLastUsed(ctx context.Context, deviceID string) error {
	err := s.redis.HSet(ctx, deviceKey(deviceID), "lastused", time.Now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	return nil
}

// Revoke removes the device record and its index entries. Returns the
// removed record so callers can terminate its sessions.
func (s *DeviceStore) Revoke(ctx context.Context, userID, deviceID string) (*DeviceRecord, error) {
	record, err := s.Get(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, deviceKey(deviceID))
		pipe.HDel(ctx, deviceFpKey(userID), record.Fingerprint)
		pipe.SRem(ctx, deviceListKey(userID), deviceID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	return record, nil
}

func deviceFields(record *DeviceRecord) map[string]interface{} {
	trusted := "0"
	if record.Trusted {
		trusted = "1"
	}
	return map[string]interface{}{
		"uid":      record.UserID,
		"name":     record.Name,
		"fp":       record.Fingerprint,
		"trusted":  trusted,
		"created":  record.CreatedAt.UnixMilli(),
		"lastused": record.LastUsedAt.UnixMilli(),
	}
}

func deviceFromFields(deviceID string, fields map[string]string) *DeviceRecord {
	created, _ := strconv.ParseInt(fields["created"], 10, 64)
	lastUsed, _ := strconv.ParseInt(fields["lastused"], 10, 64)
	return &DeviceRecord{
		DeviceID:    deviceID,
		UserID:      fields["uid"],
		Name:        fields["name"],
		Fingerprint: fields["fp"],
		Trusted:     fields["trusted"] == "1",
		CreatedAt:   time.UnixMilli(created),
		LastUsedAt:  time.UnixMilli(lastUsed),
	}
}
