package sensordata

import (
	"github.com/smallbiznis/greenhouse/internal/config"
	"github.com/smallbiznis/greenhouse/internal/migration"
	"github.com/smallbiznis/greenhouse/internal/sensordata/codec"
	"github.com/smallbiznis/greenhouse/internal/sensordata/repository"
	"github.com/smallbiznis/greenhouse/internal/sensordata/service"
	"github.com/smallbiznis/greenhouse/pkg/db"
	"go.uber.org/fx"
)

var Module = fx.Module("sensordata.service",
	fx.Provide(codec.New),
	fx.Provide(service.New),
)

// Storage selects the store backend named by STORAGE_BACKEND.
func Storage(cfg config.Config) fx.Option {
	if cfg.UsesSQL() {
		return fx.Module("sensordata.storage.sql",
			db.Module,
			migration.Module,
			fx.Provide(repository.ProvideSQLStore),
		)
	}
	return fx.Module("sensordata.storage.redis",
		fx.Provide(repository.NewRedisClient),
		fx.Provide(repository.ProvideRedisStore),
	)
}
