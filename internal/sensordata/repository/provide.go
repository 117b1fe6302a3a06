package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/greenhouse/internal/config"
	"github.com/smallbiznis/greenhouse/internal/observability/metrics"
	"github.com/smallbiznis/greenhouse/internal/sensordata/codec"
	"github.com/smallbiznis/greenhouse/internal/sensordata/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SQLStoreParams struct {
	fx.In

	DB      *gorm.DB
	Codec   codec.Codec
	Metrics *metrics.StoreMetrics `optional:"true"`
}

// ProvideSQLStore builds the SQL store. The connection lifecycle belongs to
// the db module, so the store is not closed separately.
func ProvideSQLStore(p SQLStoreParams) domain.Store {
	return Instrument(NewSQLStore(p.DB, p.Codec), config.StorageSQL, p.Metrics)
}

type RedisStoreParams struct {
	fx.In

	Client  *redis.Client
	Config  config.Config
	Codec   codec.Codec
	Metrics *metrics.StoreMetrics `optional:"true"`
}

func ProvideRedisStore(p RedisStoreParams) domain.Store {
	return Instrument(NewRedisStore(p.Client, p.Codec, p.Config.Redis.KeyPrefix), config.StorageRedis, p.Metrics)
}

// NewRedisClient connects to the record store redis and verifies it on start.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required for the %s storage backend", config.StorageRedis)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("ping redis %s: %w", addr, err)
			}
			log.Info("redis store connected", zap.String("addr", addr), zap.Int("db", cfg.Redis.DB))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}
