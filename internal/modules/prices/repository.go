// Package prices stores historical OHLCV bars. Daily bars are retained for
// at least a year; monthly roll-ups are kept indefinitely for long-horizon
// CAGR calculations.
package prices

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Repository handles the prices and prices_monthly tables.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a price repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "prices").Logger(),
	}
}

// SaveBars upserts daily bars and refreshes the affected monthly roll-ups.
func (r *Repository) SaveBars(ctx context.Context, symbol string, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	symbol = strings.ToUpper(symbol)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin price save: %w", err)
	}
	defer tx.Rollback()

	months := make(map[string]bool)
	for _, bar := range bars {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO prices (symbol, date, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			symbol, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return fmt.Errorf("failed to save bar %s %s: %w", symbol, bar.Date, err)
		}
		if len(bar.Date) >= 7 {
			months[bar.Date[:7]] = true
		}
	}

	// Monthly roll-up: last close in each affected month.
	for month := range months {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO prices_monthly (symbol, month, close)
			SELECT symbol, substr(date, 1, 7), close FROM prices
			WHERE symbol = ? AND substr(date, 1, 7) = ?
			ORDER BY date DESC LIMIT 1`, symbol, month); err != nil {
			return fmt.Errorf("failed to roll up month %s: %w", month, err)
		}
	}

	return tx.Commit()
}

// GetCloses returns up to `days` closing prices for a symbol, oldest
// first, optionally bounded by endDate (inclusive, YYYY-MM-DD).
func (r *Repository) GetCloses(ctx context.Context, symbol string, days int, endDate string) ([]float64, error) {
	query := "SELECT close FROM prices WHERE symbol = ?"
	args := []any{strings.ToUpper(symbol)}
	if endDate != "" {
		query += " AND date <= ?"
		args = append(args, endDate)
	}
	query += " ORDER BY date DESC LIMIT ?"
	args = append(args, days)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get closes for %s: %w", symbol, err)
	}
	defer rows.Close()

	var reversed []float64
	for rows.Next() {
		var close float64
		if err := rows.Scan(&close); err != nil {
			return nil, err
		}
		reversed = append(reversed, close)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first; flip to oldest-first for the signal math.
	out := make([]float64, len(reversed))
	for i, v := range reversed {
		out[len(reversed)-1-i] = v
	}
	return out, nil
}

// GetBars returns daily bars for a symbol within [start, end], oldest first.
func (r *Repository) GetBars(ctx context.Context, symbol, start, end string) ([]domain.PriceBar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, date, open, high, low, close, volume FROM prices
		WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date`,
		strings.ToUpper(symbol), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteDailyOlderThan prunes daily bars past the retention window.
// Monthly roll-ups are untouched.
func (r *Repository) DeleteDailyOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	res, err := r.db.ExecContext(ctx, "DELETE FROM prices WHERE date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune daily prices: %w", err)
	}
	return res.RowsAffected()
}

// GetMonthlyCloses returns monthly closes for a symbol, oldest first.
func (r *Repository) GetMonthlyCloses(ctx context.Context, symbol string) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT close FROM prices_monthly WHERE symbol = ? ORDER BY month", strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly closes for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var close float64
		if err := rows.Scan(&close); err != nil {
			return nil, err
		}
		out = append(out, close)
	}
	return out, rows.Err()
}
