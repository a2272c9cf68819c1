package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ideaboard/api/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger)
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			if err := store.SetFeedChannel(ctx, db, cfg.FeedChannel); err != nil {
				return err
			}
			logger.Info("migrations complete", zap.Int("applied", len(applied)), zap.Strings("files", applied))
			return nil
		},
	}
}
