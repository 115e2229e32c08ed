package server

import (
	"context"
	"fmt"

	"enigma/internal/service/redis"
)

type (
	// RedisQueue keeps offline messages as one redis list per recipient.
	RedisQueue struct {
		redisService *redis.RedisService
	}
)

func NewRedisQueue(r *redis.RedisService) *RedisQueue {
	return &RedisQueue{redisService: r}
}

func queueKey(to string) string {
	return fmt.Sprintf("to: %s", to)
}

func (q *RedisQueue) Push(ctx context.Context, to string, data []byte) error {
	return q.redisService.RPush(ctx, queueKey(to), data)
}

func (q *RedisQueue) Drain(ctx context.Context, to string) ([][]byte, error) {
	vals, err := q.redisService.Drain(ctx, queueKey(to))
	if err != nil {
		return nil, err
	}

	res := make([][]byte, 0, len(vals))
	for _, v := range vals {
		res = append(res, []byte(v))
	}
	return res, nil
}
