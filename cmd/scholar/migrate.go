package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/store"
)

func migrateCmd() *cobra.Command {
	var dir string
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Storage.Postgres.Enabled() {
				return errors.New("postgres not configured (storage.postgres.url or host)")
			}
			if err := store.Migrate(dir, cfg.Storage.Postgres.DSN(), args[0], steps); err != nil {
				return fmt.Errorf("migrate %s: %w", args[0], err)
			}
			logger.Info("migrations applied", zap.String("direction", args[0]), zap.Int("steps", steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
