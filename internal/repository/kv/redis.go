package kv

import (
	"context"
	"errors"

	redisSvc "enigma/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

type (
	// RedisStore keeps values without expiry; ratchet state must not vanish
	// while the session is alive.
	RedisStore struct {
		redis  *redisSvc.RedisService
		prefix string
	}
)

func NewRedisStore(r *redisSvc.RedisService, prefix string) *RedisStore {
	return &RedisStore{redis: r, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.redis.GetBytes(ctx, s.prefix+key)
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.redis.Set(ctx, s.prefix+key, value, 0)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.redis.Del(ctx, s.prefix+key)
}
