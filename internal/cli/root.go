package cli

import (
	"github.com/spf13/cobra"
)

const appName = "greenhouse"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Version    string
}

// NewRootCommand creates the greenhouse command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Greenhouse sensor data store",
		Long:          "Durable store for greenhouse telemetry served over HTTP with optional MQTT ingest.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "runtime config file (overrides CONFIG_FILE)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}
