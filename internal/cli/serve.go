package cli

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/greenhouse/internal/clock"
	"github.com/smallbiznis/greenhouse/internal/config"
	"github.com/smallbiznis/greenhouse/internal/ingest"
	"github.com/smallbiznis/greenhouse/internal/metricspush"
	"github.com/smallbiznis/greenhouse/internal/observability"
	"github.com/smallbiznis/greenhouse/internal/ratelimit"
	"github.com/smallbiznis/greenhouse/internal/sensordata"
	"github.com/smallbiznis/greenhouse/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type serveOptions struct {
	httpAddr string
	backend  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and optional MQTT ingest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(rootOpts)
			if addr := strings.TrimSpace(opts.httpAddr); addr != "" {
				cfg.HTTPAddr = addr
			}
			switch backend := strings.ToLower(strings.TrimSpace(opts.backend)); backend {
			case "":
			case config.StorageSQL, config.StorageRedis:
				cfg.StorageBackend = backend
			default:
				return fmt.Errorf("unknown storage backend %q", opts.backend)
			}

			app := fx.New(appOptions(cfg)...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.backend, "storage", "", "storage backend sql|redis (overrides STORAGE_BACKEND)")

	return cmd
}

func appOptions(cfg config.Config) []fx.Option {
	return []fx.Option{
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core Infrastructure
		config.Supply(cfg),
		observability.Module,
		metricspush.Module,
		clock.Module,

		// Domain
		sensordata.Storage(cfg),
		sensordata.Module,
		ratelimit.Module,

		// Transports
		server.Module,
		ingest.Module,
	}
}

func loadConfig(opts *RootOptions) config.Config {
	cfg := config.Load()
	if opts != nil && strings.TrimSpace(opts.ConfigFile) != "" {
		cfg.ConfigFile = strings.TrimSpace(opts.ConfigFile)
	}
	return cfg
}
