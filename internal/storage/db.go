// Package storage persists the inspection journal: the packages juillet
// received and every inspection it served.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/9in8/juillet/internal/config"
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Open connects to the journal database described by cfg. It returns
// (nil, nil) when the journal is disabled.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	var driver, dsn string
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		driver = "sqlite3"
		dsn = cfg.SQLite.Path
		if cfg.SQLite.JournalMode != "" {
			dsn += "?_journal_mode=" + cfg.SQLite.JournalMode + "&_busy_timeout=5000"
		}
	case "postgres":
		driver = "postgres"
		dsn = cfg.Postgres.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	switch cfg.Driver {
	case "sqlite":
		if cfg.SQLite.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.SQLite.MaxOpenConns)
		}
	case "postgres":
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
