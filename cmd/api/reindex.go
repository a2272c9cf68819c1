package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
)

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch index from Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return errors.New("MEILI_URL is not set")
			}
			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
			defer meili.Close()
			if !meili.Healthy() {
				return errors.New("meilisearch is unreachable")
			}
			pgfts := search.NewPgFTS(db)
			count, err := search.NewService(meili, pgfts, logger).Reindex(ctx, pgfts)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			logger.Info("reindex complete", zap.Int("records", count))
			return nil
		},
	}
}
