package auth

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisActiveStore is a durable ActiveStore backed by Redis; jtis expire via
// key TTL so no sweeper is needed.
type RedisActiveStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisActiveStore creates a Redis-backed store.
func NewRedisActiveStore(rdb *redis.Client, prefix string) *RedisActiveStore {
	if prefix == "" {
		prefix = "treq:"
	}
	return &RedisActiveStore{rdb: rdb, prefix: prefix}
}

func (s *RedisActiveStore) key(jti string) string { return s.prefix + "jti:" + jti }

func (s *RedisActiveStore) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.rdb.Set(ctx, s.key(jti), "1", ttl).Err()
}

func (s *RedisActiveStore) Active(ctx context.Context, jti string) (bool, error) {
	_, err := s.rdb.Get(ctx, s.key(jti)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisActiveStore) Remove(ctx context.Context, jti string) error {
	return s.rdb.Del(ctx, s.key(jti)).Err()
}
