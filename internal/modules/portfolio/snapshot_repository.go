package portfolio

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is one day's portfolio valuation.
type Snapshot struct {
	Date          string // YYYY-MM-DD
	TotalValueEUR float64
	CashEUR       float64
	Positions     map[string]float64 // symbol -> EUR value
}

// SnapshotRepository stores daily portfolio snapshots used for history
// charts and long-horizon performance tracking.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a snapshot repository.
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repository", "snapshots").Logger(),
	}
}

// Upsert writes one day's snapshot.
func (r *SnapshotRepository) Upsert(ctx context.Context, s *Snapshot) error {
	positions, err := json.Marshal(s.Positions)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot positions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO portfolio_snapshots (date, total_value_eur, cash_eur, positions)
		VALUES (?, ?, ?, ?)`,
		s.Date, s.TotalValueEUR, s.CashEUR, string(positions))
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot %s: %w", s.Date, err)
	}
	return nil
}

// LatestDate returns the date of the most recent snapshot ("" when none).
func (r *SnapshotRepository) LatestDate(ctx context.Context) (string, error) {
	var date sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT MAX(date) FROM portfolio_snapshots").Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to get latest snapshot date: %w", err)
	}
	return date.String, nil
}

// LatestTotal returns the most recent snapshot's total value (0 when no
// snapshot exists).
func (r *SnapshotRepository) LatestTotal(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT total_value_eur FROM portfolio_snapshots ORDER BY date DESC LIMIT 1`).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get latest snapshot total: %w", err)
	}
	return total.Float64, nil
}

// DeleteOlderThan removes snapshots before the cutoff and returns the count.
func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	res, err := r.db.ExecContext(ctx, "DELETE FROM portfolio_snapshots WHERE date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
