package rebalancing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// StateRepository stores the per-symbol tranche/scale-out stages. State
// transitions derive from executed trades only.
type StateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStateRepository creates a strategy-state repository.
func NewStateRepository(db *sql.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		db:  db,
		log: log.With().Str("repository", "strategy_state").Logger(),
	}
}

// Get returns the state for a symbol (zero state when absent).
func (r *StateRepository) Get(ctx context.Context, symbol string) (SymbolState, error) {
	symbol = strings.ToUpper(symbol)
	var s SymbolState
	var entryTS int64
	err := r.db.QueryRowContext(ctx, `
		SELECT symbol, tranche_stage, scaleout_stage, last_entry_price, last_entry_ts
		FROM strategy_state WHERE symbol = ?`, symbol).
		Scan(&s.Symbol, &s.TrancheStage, &s.ScaleoutStage, &s.LastEntryPrice, &entryTS)
	if err == sql.ErrNoRows {
		return SymbolState{Symbol: symbol}, nil
	}
	if err != nil {
		return SymbolState{}, fmt.Errorf("failed to get strategy state for %s: %w", symbol, err)
	}
	if entryTS > 0 {
		s.LastEntryAt = time.Unix(entryTS, 0)
	}
	return s, nil
}

// GetAll returns every stored state keyed by symbol.
func (r *StateRepository) GetAll(ctx context.Context) (map[string]SymbolState, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT symbol, tranche_stage, scaleout_stage, last_entry_price, last_entry_ts FROM strategy_state")
	if err != nil {
		return nil, fmt.Errorf("failed to list strategy states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]SymbolState)
	for rows.Next() {
		var s SymbolState
		var entryTS int64
		if err := rows.Scan(&s.Symbol, &s.TrancheStage, &s.ScaleoutStage, &s.LastEntryPrice, &entryTS); err != nil {
			return nil, err
		}
		if entryTS > 0 {
			s.LastEntryAt = time.Unix(entryTS, 0)
		}
		out[s.Symbol] = s
	}
	return out, rows.Err()
}

func (r *StateRepository) save(ctx context.Context, s SymbolState) error {
	var entryTS int64
	if !s.LastEntryAt.IsZero() {
		entryTS = s.LastEntryAt.Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO strategy_state (symbol, tranche_stage, scaleout_stage, last_entry_price, last_entry_ts)
		VALUES (?, ?, ?, ?, ?)`,
		strings.ToUpper(s.Symbol), s.TrancheStage, s.ScaleoutStage, s.LastEntryPrice, entryTS)
	if err != nil {
		return fmt.Errorf("failed to save strategy state for %s: %w", s.Symbol, err)
	}
	return nil
}

// ApplyExecutedTrade advances the state machine from one executed trade.
// Buys raise the tranche stage monotonically toward the drawdown-derived
// target and refresh the entry markers; a full exit resets everything, a
// partial sell advances the scale-out stage.
func (r *StateRepository) ApplyExecutedTrade(ctx context.Context, trade *domain.Trade,
	remainingQty int, dd252 float64) error {

	state, err := r.Get(ctx, trade.Symbol)
	if err != nil {
		return err
	}

	switch trade.Side {
	case domain.SideBuy:
		desired := DesiredTrancheStage(dd252)
		if desired > state.TrancheStage {
			state.TrancheStage = desired
		}
		state.LastEntryPrice = trade.Price
		state.LastEntryAt = time.Now()
	case domain.SideSell:
		if remainingQty <= 0 {
			state = SymbolState{Symbol: strings.ToUpper(trade.Symbol)}
		} else if state.ScaleoutStage < 2 {
			state.ScaleoutStage++
		}
	}
	return r.save(ctx, state)
}
