package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/greenhouse/internal/migration"
	"github.com/smallbiznis/greenhouse/pkg/db"
	"github.com/spf13/cobra"
)

const migrateTimeout = 2 * time.Minute

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(rootOpts)
			out := cmd.OutOrStdout()
			if !cfg.UsesSQL() {
				fmt.Fprintf(out, "storage backend %s has no schema to migrate\n", cfg.StorageBackend)
				return nil
			}

			dbCfg := db.ConfigFrom(cfg)
			conn, err := db.Open(dbCfg)
			if err != nil {
				return err
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()
			if err := migration.Apply(ctx, conn); err != nil {
				return fmt.Errorf("migrate %s: %w", dbCfg.Type, err)
			}

			fmt.Fprintf(out, "schema up to date (%s)\n", conn.Dialector.Name())
			return nil
		},
	}
}
