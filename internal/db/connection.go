package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"treasure-map/server/pkg/config"
)

// Default configuration values for connection pooling.
const (
	defaultMaxOpenConns    = 5
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 2 * time.Minute
)

const memoryPath = ":memory:"

// Open opens the SQLite database described by cfg. Zero pool settings use
// the package defaults. Every pooled connection gets foreign keys, a busy
// timeout and, for files, WAL journaling.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if cfg.Path == memoryPath {
		// Each connection to :memory: is its own database, so keep exactly
		// one alive for the lifetime of the pool.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, defaultMaxOpenConns))
		db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, defaultMaxIdleConns))
		db.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, defaultConnMaxLifetime))
		db.SetConnMaxIdleTime(orDefault(cfg.ConnMaxIdleTime, defaultConnMaxIdleTime))
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return db, nil
}

// OpenDB opens a SQLite database file at path with the default pool.
func OpenDB(path string) (*sql.DB, error) {
	return Open(config.DatabaseConfig{Path: path})
}

// OpenInMemory opens a private in-memory database. Useful for testing.
func OpenInMemory() (*sql.DB, error) {
	return Open(config.DatabaseConfig{Path: memoryPath})
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
