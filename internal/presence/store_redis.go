package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one TTL key per device plus a device index set per
// participant. The TTL is the liveness grace period: a device that stops
// refreshing (dead relay connection, no clean disconnect) falls offline when
// its key expires.
type RedisStore struct {
	rdb   *redis.Client
	grace time.Duration
	clock func() time.Time
}

func NewRedisStore(rdb *redis.Client, grace time.Duration) *RedisStore {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &RedisStore{rdb: rdb, grace: grace, clock: time.Now}
}

func deviceKey(participantID, deviceID string) string {
	return fmt.Sprintf("presence:dev:%s:%s", participantID, deviceID)
}

func indexKey(participantID string) string {
	return fmt.Sprintf("presence:idx:%s", participantID)
}

func lastSeenKey(participantID string) string {
	return fmt.Sprintf("presence:seen:%s", participantID)
}

func (s *RedisStore) SetOnline(ctx context.Context, participantID, deviceID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, deviceKey(participantID, deviceID), "1", s.grace)
	pipe.SAdd(ctx, indexKey(participantID), deviceID)
	pipe.Set(ctx, lastSeenKey(participantID), s.clock().UTC().Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Refresh(ctx context.Context, participantID, deviceID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Expire(ctx, deviceKey(participantID, deviceID), s.grace)
	pipe.Set(ctx, lastSeenKey(participantID), s.clock().UTC().Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SetOffline(ctx context.Context, participantID, deviceID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, deviceKey(participantID, deviceID))
	pipe.SRem(ctx, indexKey(participantID), deviceID)
	pipe.Set(ctx, lastSeenKey(participantID), s.clock().UTC().Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) OnlineDevices(ctx context.Context, participantID string) ([]string, error) {
	devices, err := s.rdb.SMembers(ctx, indexKey(participantID)).Result()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}

	keys := make([]string, len(devices))
	for i, d := range devices {
		keys[i] = deviceKey(participantID, d)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	online := make([]string, 0, len(devices))
	var expired []any
	for i, v := range vals {
		if v == nil {
			// TTL lapsed; drop the stale index entry opportunistically.
			expired = append(expired, devices[i])
			continue
		}
		online = append(online, devices[i])
	}
	if len(expired) > 0 {
		_ = s.rdb.SRem(ctx, indexKey(participantID), expired...).Err()
	}
	return online, nil
}

func (s *RedisStore) LastSeen(ctx context.Context, participantID string) (time.Time, bool, error) {
	v, err := s.rdb.Get(ctx, lastSeenKey(participantID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("presence: bad last_seen value: %w", err)
	}
	return t, true, nil
}
