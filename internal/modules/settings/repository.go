// Package settings provides the key-value settings repository. Settings
// override environment and file configuration at runtime, which lets
// thresholds and credentials change without a restart.
package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles settings table operations. Values are stored as
// strings and converted through the typed getters.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a settings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// Get returns a setting value, or the default when the key is absent.
func (r *Repository) Get(ctx context.Context, key, defaultValue string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return defaultValue, nil
	}
	if err != nil {
		return defaultValue, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// GetFloat returns a setting as float64, falling back to the default on a
// missing key or an unparseable value.
func (r *Repository) GetFloat(ctx context.Context, key string, defaultValue float64) (float64, error) {
	raw, err := r.Get(ctx, key, "")
	if err != nil {
		return defaultValue, err
	}
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.log.Warn().Str("key", key).Str("value", raw).Msg("Setting is not a number, using default")
		return defaultValue, nil
	}
	return value, nil
}

// GetInt returns a setting as int.
func (r *Repository) GetInt(ctx context.Context, key string, defaultValue int) (int, error) {
	value, err := r.GetFloat(ctx, key, float64(defaultValue))
	return int(value), err
}

// GetBool returns a setting as bool ("1"/"true" are true).
func (r *Repository) GetBool(ctx context.Context, key string, defaultValue bool) (bool, error) {
	raw, err := r.Get(ctx, key, "")
	if err != nil || raw == "" {
		return defaultValue, err
	}
	value, perr := strconv.ParseBool(raw)
	if perr != nil {
		return defaultValue, nil
	}
	return value, nil
}

// Set writes a setting value.
func (r *Repository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
