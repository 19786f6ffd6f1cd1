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

// ScoreRepository stores per-security scoring snapshots.
type ScoreRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScoreRepository creates a score repository.
func NewScoreRepository(db *sql.DB, log zerolog.Logger) *ScoreRepository {
	return &ScoreRepository{
		db:  db,
		log: log.With().Str("repository", "scores").Logger(),
	}
}

// Save overwrites the score snapshot for a symbol at its calculation time.
func (r *ScoreRepository) Save(ctx context.Context, score *domain.Score) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scores
			(symbol, calculated_at, total_score, long_term, fundamentals, opportunity, opinion, diversification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(score.Symbol), score.CalculatedAt.Unix(), score.TotalScore,
		score.LongTerm, score.Fundamentals, score.Opportunity, score.Opinion, score.Diversification)
	if err != nil {
		return fmt.Errorf("failed to save score for %s: %w", score.Symbol, err)
	}
	return nil
}

// GetLatest returns the most recent score for a symbol, or ErrNotFound.
func (r *ScoreRepository) GetLatest(ctx context.Context, symbol string) (*domain.Score, error) {
	var s domain.Score
	var calcAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT symbol, calculated_at, total_score, long_term, fundamentals, opportunity, opinion, diversification
		FROM scores WHERE symbol = ? ORDER BY calculated_at DESC LIMIT 1`,
		strings.ToUpper(symbol)).
		Scan(&s.Symbol, &calcAt, &s.TotalScore, &s.LongTerm, &s.Fundamentals,
			&s.Opportunity, &s.Opinion, &s.Diversification)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get score for %s: %w", symbol, err)
	}
	s.CalculatedAt = time.Unix(calcAt, 0)
	return &s, nil
}

// GetLatestAll returns the most recent total score per symbol.
func (r *ScoreRepository) GetLatestAll(ctx context.Context) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, total_score FROM scores s
		WHERE calculated_at = (SELECT MAX(calculated_at) FROM scores WHERE symbol = s.symbol)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var score float64
		if err := rows.Scan(&symbol, &score); err != nil {
			return nil, err
		}
		out[symbol] = score
	}
	return out, rows.Err()
}
