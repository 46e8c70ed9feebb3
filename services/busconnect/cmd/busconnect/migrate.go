package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"busconnect/internal/util"
	"busconnect/pkg/store"
	"busconnect/services/busconnect/internal/config"
)

func migrateCmd(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	run := func(down bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(r.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := util.InitLogger(cfg.LogLevel)
			st, err := store.Open(cmd.Context(), store.Options{
				Driver:         cfg.DatabaseDriver,
				DSN:            cfg.DatabaseURL,
				ConnectTimeout: 30 * time.Second,
			})
			if err != nil {
				return err
			}
			defer st.Close()
			if down {
				err = st.RollbackLast(cmd.Context())
			} else {
				err = st.Migrate(cmd.Context())
			}
			if err != nil {
				return err
			}
			version, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("schema migrated", "version", version)
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  run(false),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the most recent migration",
			Args:  cobra.NoArgs,
			RunE:  run(true),
		},
	)
	return cmd
}
