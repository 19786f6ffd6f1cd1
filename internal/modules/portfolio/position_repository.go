// Package portfolio tracks current holdings and cash: positions mirrored
// from the broker, per-currency balances, and daily value snapshots.
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

// PositionRepository handles positions table operations. Positions are
// mutated only by portfolio sync after a broker round-trip.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a position repository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repository", "positions").Logger(),
	}
}

// GetAll returns every position with quantity > 0, ordered by symbol.
func (r *PositionRepository) GetAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_price, current_price, currency,
			market_value_eur, cost_basis_eur, first_bought_at
		FROM positions WHERE quantity > 0 ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var firstBought int64
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AvgPrice, &p.CurrentPrice,
			&p.Currency, &p.MarketValueEUR, &p.CostBasisEUR, &firstBought); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if firstBought > 0 {
			p.FirstBoughtAt = time.Unix(firstBought, 0)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns one position. A zero-quantity row is treated as absent.
func (r *PositionRepository) Get(ctx context.Context, symbol string) (*domain.Position, error) {
	var p domain.Position
	var firstBought int64
	err := r.db.QueryRowContext(ctx, `
		SELECT symbol, quantity, avg_price, current_price, currency,
			market_value_eur, cost_basis_eur, first_bought_at
		FROM positions WHERE symbol = ? AND quantity > 0`, strings.ToUpper(symbol)).
		Scan(&p.Symbol, &p.Quantity, &p.AvgPrice, &p.CurrentPrice,
			&p.Currency, &p.MarketValueEUR, &p.CostBasisEUR, &firstBought)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w", symbol, err)
	}
	if firstBought > 0 {
		p.FirstBoughtAt = time.Unix(firstBought, 0)
	}
	return &p, nil
}

// Upsert writes a position row. first_bought_at is preserved on update so
// position age survives resyncs.
func (r *PositionRepository) Upsert(ctx context.Context, p *domain.Position) error {
	if p.Quantity < 0 {
		return &domain.ValidationError{Field: "quantity", Message: "must not be negative"}
	}
	firstBought := p.FirstBoughtAt.Unix()
	if p.FirstBoughtAt.IsZero() {
		firstBought = time.Now().Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_price, current_price, currency,
			market_value_eur, cost_basis_eur, first_bought_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price,
			currency = excluded.currency,
			market_value_eur = excluded.market_value_eur,
			cost_basis_eur = excluded.cost_basis_eur`,
		strings.ToUpper(p.Symbol), p.Quantity, p.AvgPrice, p.CurrentPrice, p.Currency,
		p.MarketValueEUR, p.CostBasisEUR, firstBought)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// DeleteMissing removes positions whose symbol is not in keep. Used by
// portfolio sync when the broker no longer reports a holding.
func (r *PositionRepository) DeleteMissing(ctx context.Context, keep []string) error {
	if len(keep) == 0 {
		_, err := r.db.ExecContext(ctx, "DELETE FROM positions")
		return err
	}
	placeholders := strings.Repeat("?,", len(keep))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(keep))
	for i, s := range keep {
		args[i] = strings.ToUpper(s)
	}
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM positions WHERE symbol NOT IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to prune positions: %w", err)
	}
	return nil
}

// TotalValueEUR returns the EUR market value of all holdings.
func (r *PositionRepository) TotalValueEUR(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		"SELECT SUM(market_value_eur) FROM positions WHERE quantity > 0").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum position values: %w", err)
	}
	return total.Float64, nil
}
