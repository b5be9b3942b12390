package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"treasure-map/server/internal/db/migrations"
)

// gooseLogger routes goose output into zap.
type gooseLogger struct {
	sugar *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(strings.TrimRight(format, "\n"), v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.sugar.Fatalf(strings.TrimRight(format, "\n"), v...)
}

func setupGoose(logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{sugar: logger.Named("migrations").Sugar()})
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// RunMigrations applies all pending embedded migrations.
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	if err := setupGoose(logger); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Rollback rolls back the latest applied migration.
func Rollback(db *sql.DB, logger *zap.Logger) error {
	if err := setupGoose(logger); err != nil {
		return err
	}
	if err := goose.Down(db, "."); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

// Status logs the state of every embedded migration.
func Status(db *sql.DB, logger *zap.Logger) error {
	if err := setupGoose(logger); err != nil {
		return err
	}
	return goose.Status(db, ".")
}

// SchemaVersion returns the version of the latest applied migration.
func SchemaVersion(db *sql.DB, logger *zap.Logger) (int64, error) {
	if err := setupGoose(logger); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
