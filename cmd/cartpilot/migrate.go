package main

import (
	"errors"

	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/internal/store"
	"github.com/spf13/cobra"
)

func migrateCMD() *cobra.Command {
	var source, direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back order journal migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			pg := cfg.Storage.Postgres
			if !pg.Enabled() {
				return errors.New("postgres not configured (storage.postgres.host/dbname or url)")
			}
			return store.Migrate(source, pg.DSN(), direction, steps)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "migration source URL, e.g. file://migrations (default: built in)")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "steps to move, 0 for all")
	return cmd
}
