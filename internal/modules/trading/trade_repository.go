// Package trading owns the trade ledger and the execution-side guardrails:
// the trade repository, per-symbol frequency cooldowns, and the daily P&L
// tracker the execution loop consults before every order.
package trading

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// TradeRepository handles the trades and cash_flows ledger tables.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a trade repository.
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repository", "trades").Logger(),
	}
}

// UpsertTrade inserts a broker trade, keyed by broker trade id. Returns
// true when a new row was created; a duplicate id is silently skipped.
func (r *TradeRepository) UpsertTrade(ctx context.Context, t *domain.Trade) (bool, error) {
	if t.BrokerTradeID == "" || t.Symbol == "" {
		return false, &domain.ValidationError{Field: "trade", Message: "requires broker id and symbol"}
	}
	if t.Price <= 0 {
		return false, &domain.ValidationError{Field: "price", Message: "must be positive"}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(broker_trade_id, symbol, side, quantity, price, executed_at, commission, commission_currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.BrokerTradeID, strings.ToUpper(t.Symbol), string(t.Side), t.Quantity, t.Price,
		t.ExecutedAt, t.Commission, t.CommissionCurrency, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to upsert trade %s: %w", t.BrokerTradeID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Record inserts a locally executed trade. When tx is non-nil the write
// joins the caller's transaction so trade bookkeeping stays atomic.
func (r *TradeRepository) Record(ctx context.Context, tx *sql.Tx, t *domain.Trade) error {
	if t.Price <= 0 {
		return &domain.ValidationError{Field: "price", Message: "must be positive"}
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.db.ExecContext(ctx, query, args...)
	}
	_, err := exec(`
		INSERT INTO trades
			(broker_trade_id, symbol, side, quantity, price, executed_at, commission, commission_currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(t.BrokerTradeID), strings.ToUpper(t.Symbol), string(t.Side), t.Quantity,
		t.Price, t.ExecutedAt, t.Commission, t.CommissionCurrency, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record trade for %s: %w", t.Symbol, err)
	}
	return nil
}

// HasRecentSellOrder reports whether a SELL for the symbol was recorded
// within the window (by the row's created_at, not executed_at). Guards
// against double-selling before the broker propagates the first order.
func (r *TradeRepository) HasRecentSellOrder(ctx context.Context, symbol string, within time.Duration) (bool, error) {
	cutoff := time.Now().Add(-within).Unix()
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE symbol = ? AND side = ? AND created_at >= ?`,
		strings.ToUpper(symbol), string(domain.SideSell), cutoff).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent sells for %s: %w", symbol, err)
	}
	return count > 0, nil
}

// TradeFilters narrows GetTrades.
type TradeFilters struct {
	Symbol string
	Side   domain.TradeSide
	Since  string // executed_at lower bound (inclusive)
}

// GetTrades returns trades matching the filters, newest first.
func (r *TradeRepository) GetTrades(ctx context.Context, f TradeFilters, limit, offset int) ([]domain.Trade, error) {
	query := `SELECT COALESCE(broker_trade_id, ''), symbol, side, quantity, price,
		executed_at, commission, commission_currency FROM trades WHERE 1=1`
	var args []any
	if f.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(f.Symbol))
	}
	if f.Side != "" {
		query += " AND side = ?"
		args = append(args, string(f.Side))
	}
	if f.Since != "" {
		query += " AND executed_at >= ?"
		args = append(args, f.Since)
	}
	query += " ORDER BY executed_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(&t.BrokerTradeID, &t.Symbol, &side, &t.Quantity, &t.Price,
			&t.ExecutedAt, &t.Commission, &t.CommissionCurrency); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertCashFlow inserts a broker cash-flow entry, deduplicated by a
// content hash over its identifying fields. Returns true for a new row.
func (r *TradeRepository) UpsertCashFlow(ctx context.Context, cf *domain.CashFlow) (bool, error) {
	if cf.Date == "" || cf.TypeID == "" {
		return false, &domain.ValidationError{Field: "cash_flow", Message: "requires date and type"}
	}
	hash := cashFlowHash(cf)
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO cash_flows (content_hash, date, type_id, amount, currency, comment)
		VALUES (?, ?, ?, ?, ?, ?)`,
		hash, cf.Date, cf.TypeID, cf.Amount, strings.ToUpper(cf.Currency), cf.Comment)
	if err != nil {
		return false, fmt.Errorf("failed to upsert cash flow: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func cashFlowHash(cf *domain.CashFlow) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.4f|%s|%s",
		cf.Date, cf.TypeID, cf.Amount, strings.ToUpper(cf.Currency), cf.Comment)))
	return hex.EncodeToString(sum[:])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
