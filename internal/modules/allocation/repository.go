// Package allocation stores target allocation weights and group mappings
// for geographies and industries. The rebalance calculators use these to
// drive country/industry allocations toward their targets.
package allocation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// TargetType selects the allocation axis.
type TargetType string

const (
	TypeGeography TargetType = "geography"
	TypeIndustry  TargetType = "industry"
)

// Repository handles allocation_targets and allocation_groups.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an allocation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "allocation").Logger(),
	}
}

// GetTargets returns group weight targets for one axis.
func (r *Repository) GetTargets(ctx context.Context, t TargetType) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, weight FROM allocation_targets WHERE type = ?", string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s targets: %w", t, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var weight float64
		if err := rows.Scan(&name, &weight); err != nil {
			return nil, err
		}
		out[name] = weight
	}
	return out, rows.Err()
}

// SetTarget upserts one group weight target.
func (r *Repository) SetTarget(ctx context.Context, t TargetType, name string, weight float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO allocation_targets (type, name, weight) VALUES (?, ?, ?)`,
		string(t), name, weight)
	if err != nil {
		return fmt.Errorf("failed to set %s target %s: %w", t, name, err)
	}
	return nil
}

// GetGroups returns the member → group mapping for one axis (e.g. country
// → region, industry → sector).
func (r *Repository) GetGroups(ctx context.Context, t TargetType) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT member, group_name FROM allocation_groups WHERE type = ?", string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s groups: %w", t, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var member, group string
		if err := rows.Scan(&member, &group); err != nil {
			return nil, err
		}
		out[member] = group
	}
	return out, rows.Err()
}
