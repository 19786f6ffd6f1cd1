// Package database provides SQLite connection management with per-database
// configuration profiles and schema migration.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Profile selects the PRAGMA set for a database.
type Profile string

const (
	// ProfileLedger - maximum safety for the immutable audit trail.
	ProfileLedger Profile = "ledger"
	// ProfileCache - maximum speed for ephemeral data.
	ProfileCache Profile = "cache"
	// ProfileStandard - balanced configuration for most databases.
	ProfileStandard Profile = "standard"
)

// DB wraps one SQLite database connection.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// Config holds database open options.
type Config struct {
	Path    string
	Profile Profile
	Name    string // Friendly name for logging ("universe", "ledger", ...)
}

// New opens a database with the profile's PRAGMAs applied and the
// connection pool sized for long-running single-process use.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", connectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	// Writers are serialized per database; a single connection avoids
	// SQLITE_BUSY under concurrent repository writes.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

func connectionString(path string, profile Profile) string {
	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(1)",
	}
	switch profile {
	case ProfileLedger:
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(FULL)")
	case ProfileCache:
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(OFF)")
	default:
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	joined := strings.Join(pragmas, "&")
	if strings.HasPrefix(path, "file:") {
		if strings.Contains(path, "?") {
			return path + "&" + joined
		}
		return path + "?" + joined
	}
	return "file:" + path + "?" + joined
}

// Conn exposes the underlying connection for repositories.
func (d *DB) Conn() *sql.DB { return d.conn }

// Path returns the on-disk path of the database file.
func (d *DB) Path() string { return d.path }

// Name returns the database's friendly name.
func (d *DB) Name() string { return d.name }

// Close closes the connection.
func (d *DB) Close() error { return d.conn.Close() }

// Migrate applies the embedded schema. Statements are idempotent
// (CREATE TABLE IF NOT EXISTS) so migration can run on every startup.
func (d *DB) Migrate() error {
	if _, err := d.conn.Exec(Schema); err != nil {
		return fmt.Errorf("failed to migrate database %s: %w", d.name, err)
	}
	return nil
}

// CheckpointWAL truncates the write-ahead log.
func (d *DB) CheckpointWAL(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	err := d.conn.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("wal checkpoint failed for %s: %w", d.name, err)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns an error when the
// database reports anything other than "ok".
func (d *DB) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := d.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed for %s: %w", d.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", d.name, result)
	}
	return nil
}

// BackupTo writes a consistent snapshot of the database to destPath using
// VACUUM INTO.
func (d *DB) BackupTo(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if _, err := d.conn.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backup failed for %s: %w", d.name, err)
	}
	return nil
}
