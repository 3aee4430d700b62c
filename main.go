package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/oppmine-inc/oppmine-engine/pkg/config"
	"github.com/oppmine-inc/oppmine-engine/pkg/database"
	"github.com/oppmine-inc/oppmine-engine/pkg/llm"
	"github.com/oppmine-inc/oppmine-engine/pkg/logging"
	"github.com/oppmine-inc/oppmine-engine/pkg/reddit"
	"github.com/oppmine-inc/oppmine-engine/pkg/repositories"
	"github.com/oppmine-inc/oppmine-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting oppmine-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("subreddit", cfg.Reddit.Subreddit),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("scoring_enabled", cfg.Scoring.Enabled))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.String("error", logging.SanitizeError(err)))
	}

	concepts := repositories.NewConceptRepository(db)
	opportunities := repositories.NewOpportunityRepository(db)
	dedup := services.NewDedupService(concepts, opportunities, logger)

	var scoring services.ScoringService
	if cfg.Scoring.Enabled {
		client, err := llm.NewClient(&llm.Config{
			Endpoint: cfg.Scoring.Endpoint,
			Model:    cfg.Scoring.Model,
			APIKey:   cfg.Scoring.APIKey,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create scoring client", zap.Error(err))
		}
		scoring = services.NewScoringService(client, concepts, opportunities, cfg.Scoring.Temperature, logger)
	}

	source := reddit.NewClient(reddit.Config{
		BaseURL:   cfg.Reddit.BaseURL,
		UserAgent: cfg.Reddit.UserAgent,
		Timeout:   cfg.Reddit.Timeout,
	}, logger)

	harvest := services.NewHarvestService(source, dedup, scoring, opportunities, services.HarvestConfig{
		Subreddit:       cfg.Reddit.Subreddit,
		FetchLimit:      cfg.Reddit.FetchLimit,
		MaxStoreRetries: cfg.Harvest.MaxStoreRetries,
		KeepResults:     cfg.Harvest.KeepResults,
		ScoringEnabled:  cfg.Scoring.Enabled,
	}, logger)

	stats, err := harvest.RunBatch(ctx)
	if err != nil {
		logger.Error("harvest batch failed", zap.String("error", logging.SanitizeError(err)))
		os.Exit(1)
	}

	logger.Info("done",
		zap.Int("processed", stats.Processed),
		zap.Int("unique", stats.Unique),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("invalid", stats.Invalid),
		zap.Int("failed", stats.Failed),
		zap.Int("scored", stats.Scored))
}

// runMigrations goes through database/sql (required by golang-migrate).
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}
