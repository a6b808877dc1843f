package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/insightdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewClient returns nil when redis is disabled; every consumer falls back
// to in-process state in that case.
func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		log.Info("redis disabled, using in-process quota and change events")
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required when REDIS_ENABLED is set")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    strings.TrimSpace(cfg.Redis.Password),
		DB:          cfg.Redis.DB,
		DialTimeout: 5 * time.Second,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}
