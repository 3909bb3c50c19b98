package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/config"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/database"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	action := flag.String("action", "up", "Migration action: up, down, version, force")
	steps := flag.Int("steps", 1, "Number of migrations to roll back (down) or version to force (force)")
	dbName := flag.String("db", "deepscan", "Database name recorded by the migrator")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	// golang-migrate needs database/sql
	db, err := database.OpenSQL(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	logger.Info("connected to database")

	migrator, err := database.NewMigrator(db, *dbName, logger)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() { _ = migrator.Close() }()

	// Execute action
	switch *action {
	case "up":
		logger.Info("running migrations")
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("migrations completed")

	case "down":
		logger.Info("rolling back migrations", slog.Int("steps", *steps))
		if err := migrator.Down(*steps); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("rollback completed")

	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		logger.Info("current version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	case "force":
		if *steps <= 0 {
			return fmt.Errorf("steps flag must be the version to force")
		}
		logger.Info("forcing migration version", slog.Int("version", *steps))
		if err := migrator.Force(*steps); err != nil {
			return fmt.Errorf("force migration failed: %w", err)
		}
		logger.Info("migration version forced")

	default:
		return fmt.Errorf("invalid action: %s (use: up, down, version, force)", *action)
	}

	return nil
}
