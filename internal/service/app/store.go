package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"enigma/internal/config"
	"enigma/internal/repository/kv"
	"enigma/internal/service/redis"
)

// OpenStateStore opens the backend that holds the local account and
// ratchet state. The closer releases it.
func OpenStateStore(ctx context.Context, cfg config.Config) (kv.Store, io.Closer, error) {
	switch cfg.Client.StateBackend {
	case config.BackendBadger:
		if err := os.MkdirAll(cfg.Client.DataDir, 0o700); err != nil {
			return nil, nil, err
		}
		s, err := kv.OpenBadger(cfg.Client.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendRedis:
		r, err := redis.Connect(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return kv.NewRedisStore(r, "enigma:"), r, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.Client.StateBackend)
	}
}
