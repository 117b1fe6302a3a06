package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/greenhouse/internal/config"
	"github.com/smallbiznis/greenhouse/internal/observability/logger"
	"github.com/smallbiznis/greenhouse/internal/observability/metrics"
	"github.com/smallbiznis/greenhouse/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(
		NewConfig,
		provideLoggerConfig,
		logger.NewLevel,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		provideRegisterer,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.NewStoreMetrics,
	),
	fx.Invoke(ensureTracingProvider),
	fx.Invoke(watchRuntimeLevel),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

// watchRuntimeLevel applies log.level from the runtime config file now and
// on every reload.
func watchRuntimeLevel(holder *config.RuntimeHolder, level zap.AtomicLevel, log *zap.Logger) {
	apply := func(rt config.Runtime) {
		if logger.SetLevel(level, rt.LogLevel) {
			log.Info("log level changed", zap.String("level", level.String()))
		}
	}
	if holder.Loaded() {
		apply(holder.Get())
	}
	holder.Subscribe(apply)
}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:    cfg.ServiceName,
		Environment:    cfg.Environment,
		Version:        cfg.Version,
		StorageBackend: cfg.StorageBackend,
		Level:          cfg.LogLevel,
		Format:         cfg.LogFormat,
		Development:    cfg.Development(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:        cfg.Tracing,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		StorageBackend: cfg.StorageBackend,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		SampleRatio:    cfg.SampleRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:        cfg.Tracing,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		ServiceName:    cfg.ServiceName,
		Environment:    cfg.Environment,
		StorageBackend: cfg.StorageBackend,
	}
}
