package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/querypanda/internal/domain"
)

// KeyPrefix namespaces checkpoint keys in Redis.
const KeyPrefix = "querypanda:checkpoint:"

// RedisStore keeps the checkpoint under a key derived from the save location,
// so several hosts writing to shared storage see the same progress.
type RedisStore struct {
	rdb redis.Cmdable
	key string
}

var _ domain.CheckpointStore = (*RedisStore)(nil)

// NewRedisStore returns a store for the checkpoint of saveLocation.
func NewRedisStore(rdb redis.Cmdable, saveLocation string) *RedisStore {
	return &RedisStore{rdb: rdb, key: KeyPrefix + filepath.Clean(saveLocation)}
}

// Key returns the Redis key holding the checkpoint.
func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Load(ctx domain.Context) (domain.Checkpoint, bool, error) {
	b, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Checkpoint{}, false, nil
		}
		return domain.Checkpoint{}, false, fmt.Errorf("op=checkpoint.redis.Load: %w: %w", domain.ErrUnavailable, err)
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("op=checkpoint.redis.Load: %w: corrupt checkpoint %s: %w", domain.ErrInternal, s.key, err)
	}
	return cp, true, nil
}

func (s *RedisStore) Save(ctx domain.Context, cp domain.Checkpoint) error {
	b, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("op=checkpoint.redis.Save: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("op=checkpoint.redis.Save: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx domain.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("op=checkpoint.redis.Clear: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}
