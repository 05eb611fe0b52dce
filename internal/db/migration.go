package db

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"smsalert/internal/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationsTable is created by the migration library to track state.
const MigrationsTable = "schema_migrations"

// DefaultTable is the table the embedded migrations manage.
const DefaultTable = "phone_numbers"

type MigrationHandler struct {
	Migrate *migrate.Migrate
	logger  *logging.ContextLogger
}

// Printf implements migrate.Logger.
func (h *MigrationHandler) Printf(format string, v ...interface{}) {
	h.logger.Debugf(format, v...)
}

// Verbose implements migrate.Logger.
func (h *MigrationHandler) Verbose() bool {
	return h.logger.IsLevelEnabled(logrus.DebugLevel)
}

func NewMigrationHandler(cfg PgConfig, logger *logging.ContextLogger) (*MigrationHandler, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	connStr := cfg.URL("pgx5") + "&x-migrations-table=" + MigrationsTable
	m, err := migrate.NewWithSourceInstance("iofs", source, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	h := &MigrationHandler{Migrate: m, logger: logger}
	m.Log = h
	return h, nil
}

func (h *MigrationHandler) Up() error {
	start := time.Now()
	defer func() {
		h.logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Migrations finished")
	}()

	if err := h.Migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed up: %w", err)
	}
	return nil
}

func (h *MigrationHandler) Down() error {
	if err := h.Migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed down: %w", err)
	}
	return nil
}

func (h *MigrationHandler) Close() error {
	srcErr, dbErr := h.Migrate.Close()
	return errors.Join(srcErr, dbErr)
}
