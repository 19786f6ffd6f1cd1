// Package universe manages the security universe: the instruments the
// agent is allowed to observe and trade, and their scores.
package universe

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// SecurityRepository handles securities table operations.
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a security repository.
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repository", "securities").Logger(),
	}
}

const securityColumns = `symbol, name, currency, country, industry, exchange, min_lot,
	allow_buy, allow_sell, active, priority_multiplier, yahoo_symbol, isin,
	ml_enabled, last_synced`

func scanSecurity(row interface{ Scan(...any) error }) (*domain.Security, error) {
	var s domain.Security
	var allowBuy, allowSell, active, mlEnabled int
	var lastSynced int64
	err := row.Scan(&s.Symbol, &s.Name, &s.Currency, &s.Country, &s.Industry, &s.Exchange, &s.MinLot,
		&allowBuy, &allowSell, &active, &s.PriorityMultiplier, &s.YahooSymbol, &s.ISIN,
		&mlEnabled, &lastSynced)
	if err != nil {
		return nil, err
	}
	s.AllowBuy = allowBuy == 1
	s.AllowSell = allowSell == 1
	s.Active = active == 1
	s.MLEnabled = mlEnabled == 1
	if lastSynced > 0 {
		s.LastSynced = time.Unix(lastSynced, 0)
	}
	return &s, nil
}

// GetBySymbol returns the security for a broker symbol, or ErrNotFound.
func (r *SecurityRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.Security, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+securityColumns+" FROM securities WHERE symbol = ?", strings.ToUpper(symbol))
	sec, err := scanSecurity(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security %s: %w", symbol, err)
	}
	return sec, nil
}

// GetByIdentifier resolves a security by Tradernet symbol, ISIN, or Yahoo
// symbol, depending on the identifier's detected type.
func (r *SecurityRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Security, error) {
	id := strings.ToUpper(strings.TrimSpace(identifier))
	var query string
	switch domain.DetectIdentifierType(id) {
	case domain.IdentifierISIN:
		query = "SELECT " + securityColumns + " FROM securities WHERE isin = ?"
	case domain.IdentifierTradernet:
		query = "SELECT " + securityColumns + " FROM securities WHERE symbol = ?"
	default:
		query = "SELECT " + securityColumns + " FROM securities WHERE yahoo_symbol = ?"
	}
	sec, err := scanSecurity(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve security %s: %w", identifier, err)
	}
	return sec, nil
}

// GetAllActive returns every active security, ordered by symbol.
func (r *SecurityRepository) GetAllActive(ctx context.Context) ([]domain.Security, error) {
	return r.getAll(ctx, true)
}

// GetAll returns every security, active or not.
func (r *SecurityRepository) GetAll(ctx context.Context) ([]domain.Security, error) {
	return r.getAll(ctx, false)
}

func (r *SecurityRepository) getAll(ctx context.Context, activeOnly bool) ([]domain.Security, error) {
	query := "SELECT " + securityColumns + " FROM securities"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY symbol"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list securities: %w", err)
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		out = append(out, *sec)
	}
	return out, rows.Err()
}

// GetMLEnabled returns active securities with ML jobs enabled.
func (r *SecurityRepository) GetMLEnabled(ctx context.Context) ([]domain.Security, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+securityColumns+" FROM securities WHERE active = 1 AND ml_enabled = 1 ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to list ml-enabled securities: %w", err)
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sec)
	}
	return out, rows.Err()
}

// Create inserts a new security. Symbol and name are required; min_lot
// defaults to 1 when unset.
func (r *SecurityRepository) Create(ctx context.Context, sec *domain.Security) error {
	if strings.TrimSpace(sec.Symbol) == "" {
		return &domain.ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if strings.TrimSpace(sec.Name) == "" {
		return &domain.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if sec.MinLot < 1 {
		sec.MinLot = 1
	}
	if sec.PriorityMultiplier == 0 {
		sec.PriorityMultiplier = 1.0
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO securities (symbol, name, currency, country, industry, exchange, min_lot,
			allow_buy, allow_sell, active, priority_multiplier, yahoo_symbol, isin, ml_enabled, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(sec.Symbol), sec.Name, sec.Currency, sec.Country, sec.Industry, sec.Exchange, sec.MinLot,
		boolToInt(sec.AllowBuy), boolToInt(sec.AllowSell), boolToInt(sec.Active),
		sec.PriorityMultiplier, sec.YahooSymbol, sec.ISIN, boolToInt(sec.MLEnabled),
		sec.LastSynced.Unix())
	if err != nil {
		return fmt.Errorf("failed to create security %s: %w", sec.Symbol, err)
	}
	return nil
}

// Update applies the given field values to one security row. Field names
// are column names; unknown fields are rejected.
func (r *SecurityRepository) Update(ctx context.Context, symbol string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	allowed := map[string]bool{
		"name": true, "currency": true, "country": true, "industry": true, "exchange": true,
		"min_lot": true, "allow_buy": true, "allow_sell": true, "active": true,
		"priority_multiplier": true, "yahoo_symbol": true, "isin": true,
		"ml_enabled": true, "last_synced": true,
	}

	setClauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for name, value := range fields {
		if !allowed[name] {
			return &domain.ValidationError{Field: name, Message: "is not an updatable column"}
		}
		setClauses = append(setClauses, name+" = ?")
		args = append(args, value)
	}
	args = append(args, strings.ToUpper(symbol))

	res, err := r.db.ExecContext(ctx,
		"UPDATE securities SET "+strings.Join(setClauses, ", ")+" WHERE symbol = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update security %s: %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes a security: current-state rows (its position)
// are deleted, history is preserved, the row itself stays with active = 0.
func (r *SecurityRepository) Deactivate(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	if err := r.Update(ctx, symbol, map[string]any{"active": 0}); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM positions WHERE symbol = ?", symbol); err != nil {
		return fmt.Errorf("failed to remove position for %s: %w", symbol, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
