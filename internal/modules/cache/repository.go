// Package cache provides a TTL'd key-value cache over SQLite with
// msgpack-encoded values. The analysis cache lives here; sync:prices
// clears it before fetching fresh data.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/helmsman/internal/domain"
)

// Repository handles the cache table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a cache repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "cache").Logger(),
	}
}

// Set stores a value under key with a TTL.
func (r *Repository) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %s: %w", key, err)
	}
	_, err = r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (key, value, expires_at) VALUES (?, ?, ?)",
		key, encoded, time.Now().Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to set cache %s: %w", key, err)
	}
	return nil
}

// Get decodes the cached value into out. Returns ErrNotFound for a missing
// or expired key.
func (r *Repository) Get(ctx context.Context, key string, out any) error {
	var encoded []byte
	var expiresAt int64
	err := r.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM cache WHERE key = ?", key).Scan(&encoded, &expiresAt)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get cache %s: %w", key, err)
	}
	if time.Now().Unix() > expiresAt {
		return domain.ErrNotFound
	}
	if err := msgpack.Unmarshal(encoded, out); err != nil {
		return fmt.Errorf("failed to decode cache %s: %w", key, err)
	}
	return nil
}

// ClearPrefix removes every entry whose key starts with prefix and returns
// the count. An empty prefix clears the whole cache.
func (r *Repository) ClearPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM cache WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache prefix %s: %w", prefix, err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes entries past their TTL and returns the count.
func (r *Repository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM cache WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}
