package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix     = "sqlassist"
	defaultRedisSessionTTL = 24 * time.Hour
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps snapshots as JSON values that expire after the session TTL.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	sessionTTL time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, sessionTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultRedisSessionTTL
	}
	return &RedisStore{client: client, prefix: prefix, sessionTTL: sessionTTL}
}

func (s *RedisStore) snapshotKey(sessionID string) string {
	return s.prefix + ":checkpoint:" + sessionID
}

func (s *RedisStore) lockKey(sessionID string) string {
	return s.prefix + ":lock:" + sessionID
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return snap, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.snapshotKey(sessionID), data, s.sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) Lock(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	key := s.lockKey(sessionID)
	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		return nil
	}
	// Re-entrant for the current owner: refresh the expiry.
	held, err := s.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read lock: %w", err)
	}
	if held == owner {
		return s.client.PExpire(ctx, key, ttl).Err()
	}
	return ErrLocked
}

func (s *RedisStore) Unlock(ctx context.Context, sessionID, owner string) error {
	if err := unlockScript.Run(ctx, s.client, []string{s.lockKey(sessionID)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
