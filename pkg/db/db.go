package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // Register postgres driver
	_ "modernc.org/sqlite" // Register sqlite driver

	"imagehost/pkg/config"
	"imagehost/pkg/retry"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// New wraps an already opened connection. Used by tests that bring their own driver.
func New(conn *sql.DB, dialect Dialect) *DB {
	return &DB{DB: conn, Dialect: dialect}
}

// Open connects using cfg, retrying with backoff until the database answers
// or the configured attempts run out, and then runs migrations.
func Open(ctx context.Context, cfg *config.DBConfig) (*DB, error) {
	backoff := retry.Backoff{
		BaseDelay: time.Duration(cfg.RetryDelay),
		MaxDelay:  time.Duration(cfg.MaxRetryDelay),
	}

	var d *DB
	err := retry.Do(ctx, "database connect", cfg.ConnectRetries, backoff, func(ctx context.Context) error {
		var err error
		switch cfg.Driver {
		case config.DriverPostgres:
			d, err = openPostgres(ctx, cfg.DSN)
		case config.DriverSQLite:
			d, err = openSQLite(ctx, cfg.Path)
		default:
			return fmt.Errorf("unsupported driver %q", cfg.Driver)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

// Init opens the sqlite database at path and runs migrations.
func Init(path string) (*DB, error) {
	ctx := context.Background()
	d, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

func openSQLite(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=30000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &DB{DB: conn, Dialect: SQLite}, nil
}

func openPostgres(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &DB{DB: conn, Dialect: Postgres}, nil
}

// Rebind converts ? placeholders to the dialect's form.
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// Migrate creates the schema if it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	var queries []string
	switch d.Dialect {
	case Postgres:
		queries = []string{
			`CREATE TABLE IF NOT EXISTS images (
				id SERIAL PRIMARY KEY,
				filename TEXT NOT NULL UNIQUE,
				original_name TEXT NOT NULL,
				size BIGINT NOT NULL,
				file_type TEXT NOT NULL,
				upload_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`,
			`CREATE INDEX IF NOT EXISTS idx_images_upload_time ON images (upload_time DESC);`,
		}
	default:
		queries = []string{
			`CREATE TABLE IF NOT EXISTS images (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				filename TEXT NOT NULL UNIQUE,
				original_name TEXT NOT NULL,
				size INTEGER NOT NULL,
				file_type TEXT NOT NULL,
				upload_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`,
			`CREATE INDEX IF NOT EXISTS idx_images_upload_time ON images (upload_time DESC);`,
		}
	}

	for _, q := range queries {
		if _, err := d.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}
	return nil
}
