package store

import (
	"bufio"
	"bytes"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var postgresMigrationsFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

// runPostgresMigrations applies pending migrations with golang-migrate,
// exactly the embedded-iofs pattern the teacher's pkg/database/client.go
// uses, minus the ent driver wiring it needs and this store does not.
func runPostgresMigrations(db *sql.DB, databaseName string) error {
	sourceDriver, err := iofs.New(postgresMigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	defer sourceDriver.Close()

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}

// runSQLiteMigrations applies the embedded SQLite schema directly.
// golang-migrate's bundled sqlite driver is built on mattn/go-sqlite3 (cgo),
// which conflicts with the pure-Go modernc.org/sqlite driver this backend
// uses for database/sql; the schema is idempotent (CREATE TABLE/INDEX IF
// NOT EXISTS) so a single straight-line apply serves the same purpose as a
// migrate.Up() for this one-migration schema.
func runSQLiteMigrations(db *sql.DB) error {
	raw, err := sqliteMigrationsFS.ReadFile("migrations/sqlite/0001_init.up.sql")
	if err != nil {
		return fmt.Errorf("store: read sqlite schema: %w", err)
	}
	for _, stmt := range splitStatements(raw) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: apply sqlite schema: %w", err)
		}
	}
	return nil
}

func splitStatements(raw []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var stmts []string
	var cur strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			stmts = append(stmts, cur.String())
			cur.Reset()
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		stmts = append(stmts, cur.String())
	}
	return stmts
}
