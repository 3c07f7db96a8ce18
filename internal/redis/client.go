// Package redis provides the optional redis client with the job lock and
// webhook rate limiter built on it. Without REDIS_ADDR nothing here is
// constructed.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/milkrun/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient),
	fx.Provide(NewLocker),
	fx.Provide(NewRateLimiter),
)

// NewClient connects to the configured redis. It returns nil when redis is
// not configured so dependents fall back to process-local behaviour.
func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*goredis.Client, error) {
	if !cfg.Redis.Enabled() {
		log.Named("redis").Info("redis not configured; job locks are process-local")
		return nil, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}
