package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver (pure Go, no cgo)
)

// NewSQLiteStore opens (creating if absent) a SQLite database file at path,
// applies the embedded schema, and returns a Store. This is the
// zero-infrastructure alternative to Postgres for single-machine runs
// without Docker, satisfying the same Store contract.
func NewSQLiteStore(ctx context.Context, path string, log *slog.Logger) (Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" errors under the store's concurrent evaluators.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := runSQLiteMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}
	return &sqlStore{db: db, dialect: "sqlite", log: log.With("store", "sqlite")}, nil
}
