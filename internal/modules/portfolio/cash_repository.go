package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// CashRepository stores per-currency cash balances mirrored from the
// broker. Amounts may be negative (margin).
type CashRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCashRepository creates a cash balance repository.
func NewCashRepository(db *sql.DB, log zerolog.Logger) *CashRepository {
	return &CashRepository{
		db:  db,
		log: log.With().Str("repository", "cash_balances").Logger(),
	}
}

// GetAll returns every stored balance keyed by currency.
func (r *CashRepository) GetAll(ctx context.Context) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT currency, amount FROM cash_balances")
	if err != nil {
		return nil, fmt.Errorf("failed to list cash balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var currency string
		var amount float64
		if err := rows.Scan(&currency, &amount); err != nil {
			return nil, err
		}
		out[currency] = amount
	}
	return out, rows.Err()
}

// ReplaceAll overwrites all balances with the broker's current snapshot.
func (r *CashRepository) ReplaceAll(ctx context.Context, balances []domain.CashBalance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin balance replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cash_balances"); err != nil {
		return fmt.Errorf("failed to clear cash balances: %w", err)
	}
	now := time.Now().Unix()
	for _, b := range balances {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cash_balances (currency, amount, updated_at) VALUES (?, ?, ?)",
			strings.ToUpper(b.Currency), b.Amount, now); err != nil {
			return fmt.Errorf("failed to insert balance %s: %w", b.Currency, err)
		}
	}
	return tx.Commit()
}

// Get returns the balance for one currency (0 when absent).
func (r *CashRepository) Get(ctx context.Context, currency string) (float64, error) {
	var amount float64
	err := r.db.QueryRowContext(ctx,
		"SELECT amount FROM cash_balances WHERE currency = ?", strings.ToUpper(currency)).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance %s: %w", currency, err)
	}
	return amount, nil
}
