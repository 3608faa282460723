package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB is a database handle that knows which SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to dsn. postgres:// and postgresql:// URLs use lib/pq;
// anything else is treated as a SQLite path, optionally prefixed with "sqlite:".
func Open(ctx context.Context, dsn string) (*DB, error) {
	var db *DB
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		conn, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		conn.SetMaxOpenConns(5)
		db = &DB{DB: conn, Dialect: DialectPostgres}
	default:
		path := strings.TrimPrefix(dsn, "sqlite:")
		if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, ":memory:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		conn, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// SQLite prefers a single writer.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		_, _ = conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
		db = &DB{DB: conn, Dialect: DialectSQLite}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database is unreachable: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Migrate(ctx context.Context) error {
	schema, err := migrationsFS.ReadFile("migrations/" + string(db.Dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// Rebind rewrites $n placeholders for the active dialect. Queries must use each
// placeholder once and in ascending order.
func (db *DB) Rebind(query string) string {
	if db.Dialect == DialectPostgres {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}
