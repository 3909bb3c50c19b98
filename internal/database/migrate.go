package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

func NewMigrator(db *sql.DB, dbName string, logger *slog.Logger) (*Migrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		DatabaseName: dbName,
	})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{m: m, logger: logger}, nil
}

// Up applies all pending migrations. No pending migration is not an error.
func (m *Migrator) Up() error {
	err := m.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("schema up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		m.logger.Info("migrations applied", "version", v)
	}
	return nil
}

// Down rolls back n migrations (DEV ONLY)
func (m *Migrator) Down(n int) error {
	if n <= 0 {
		n = 1
	}
	if err := m.m.Steps(-n); err != nil {
		return fmt.Errorf("rollback %d migrations: %w", n, err)
	}
	m.logger.Warn("migrations rolled back", "steps", n)
	return nil
}

func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations (DANGEROUS)
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("force version: %w", err)
	}
	return nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// MigrateUp applies pending migrations on db and releases the migrator.
func MigrateUp(db *sql.DB, dbName string, logger *slog.Logger) error {
	m, err := NewMigrator(db, dbName, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}
