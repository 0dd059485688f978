// Package database opens the SQLite store backing the group-address
// recorder.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
	msPerSecond     = 1000

	connectionTimeout = 5 * time.Second
	connMaxIdleTime   = 30 * time.Minute
)

// DB wraps *sql.DB with the pragmas and lifecycle this module expects.
type DB struct {
	*sql.DB
	path string
}

// Config selects the SQLite file and its locking behaviour.
type Config struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// Open creates the database directory if needed, opens the file with
// foreign keys and (optionally) WAL mode enabled, and verifies
// connectivity with a ping before returning.
func Open(cfg Config) (*DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions)
	return db, nil
}

// Migrate applies the group-address-recorder schema; it is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS knx_group_addresses (
	group_address      TEXT PRIMARY KEY,
	last_seen           INTEGER NOT NULL,
	last_health_check   INTEGER,
	message_count       INTEGER NOT NULL DEFAULT 0,
	has_read_response   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS knx_devices (
	individual_address TEXT PRIMARY KEY,
	last_seen          INTEGER NOT NULL,
	message_count      INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Path returns the filesystem path the database was opened from.
func (db *DB) Path() string { return db.path }
