package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ideaboard/api/internal/app"
	"ideaboard/api/internal/assistant"
	"ideaboard/api/internal/attachments"
	"ideaboard/api/internal/auth"
	"ideaboard/api/internal/config"
	"ideaboard/api/internal/export"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/functions"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
)

func serveCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the change feed and the search indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServe(cmd.Context(), cfg, logger, skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
	return cmd
}

func runServe(parent context.Context, cfg config.Config, logger *zap.Logger, skipMigrations bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if !skipMigrations {
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	if err := store.SetFeedChannel(ctx, db, cfg.FeedChannel); err != nil {
		return err
	}
	dataStore := store.NewPostgresStore(db)

	group, gctx := errgroup.WithContext(ctx)

	// Change feed: Postgres NOTIFY into the local bus, through Redis when
	// several instances share the database.
	bus := feed.NewBus(logger.Named("feed"))
	var feedOut feed.Publisher = bus
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := feed.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		relay := feed.NewRedisRelay(client, cfg.FeedChannel, bus, logger.Named("relay"))
		feedOut = relay
		group.Go(func() error { return relay.Run(gctx) })
		logger.Info("change feed relayed through redis", zap.String("channel", cfg.FeedChannel))
	}
	listener := feed.NewListener(cfg.DatabaseURL, cfg.FeedChannel, feedOut, logger.Named("listener"))
	group.Go(func() error { return listener.Run(gctx) })

	// Search: Meilisearch when configured, Postgres full text otherwise.
	pgfts := search.NewPgFTS(db)
	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		engine = meili
	}
	searchService := search.NewService(engine, pgfts, logger)
	indexer := search.NewIndexer(bus, pgfts, searchService, logger)
	group.Go(func() error { return indexer.Run(gctx) })

	service := app.New(cfg, dataStore, logger)
	service.UseSearch(searchService)
	service.UseExporter(export.NewService(dataStore, logger.Named("export")))

	blobs, err := attachments.New(attachments.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	}, logger.Named("attachments"))
	if err != nil {
		logger.Warn("attachment storage disabled", zap.Error(err))
	} else if err := blobs.EnsureBucket(ctx); err != nil {
		logger.Warn("attachment storage disabled", zap.String("bucket", cfg.S3Bucket), zap.Error(err))
	} else {
		service.UseAttachments(blobs)
	}

	conv := assistant.NewClient(assistant.Config{
		APIKey:       cfg.AssistantAPIKey,
		BaseURL:      cfg.AssistantBaseURL,
		PollInterval: cfg.AssistantPollInterval,
		MaxPolls:     cfg.AssistantMaxPolls,
		Logger:       logger.Named("assistant"),
	})
	generator := functions.NewIdeaGenerator(conv, cfg.IdeaAssistantID, logger)
	profiles := functions.NewProfileUpdater(conv, cfg.ProfileAssistantID, auth.NewVerifier(cfg.JWTSecret), dataStore, logger)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin,
		app.WithLogger(logger.Named("http")),
		app.WithFunctions(generator.Handler(), profiles.Handler()),
		app.WithLiveFeed(bus, cfg.SearchDebounce),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group.Go(func() error {
		logger.Info("ideaboard api listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		return nil
	})

	err = group.Wait()
	logger.Info("ideaboard api stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
