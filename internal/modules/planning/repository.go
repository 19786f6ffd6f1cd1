package planning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Repository stores candidate sequences keyed by portfolio hash, with
// evaluation status and end-state score.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a planner repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "planner").Logger(),
	}
}

// BestResult is the highest-scoring evaluated sequence for a hash.
type BestResult struct {
	SequenceHash string
	Score        float64
}

// HasSequences reports whether any sequences exist for the hash.
func (r *Repository) HasSequences(ctx context.Context, portfolioHash string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM planner_sequences WHERE portfolio_hash = ?", portfolioHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count sequences: %w", err)
	}
	return count > 0, nil
}

// AreAllSequencesEvaluated reports whether every sequence for the hash
// has a score. A hash with no sequences counts as not evaluated.
func (r *Repository) AreAllSequencesEvaluated(ctx context.Context, portfolioHash string) (bool, error) {
	var total, evaluated int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(evaluated), 0) FROM planner_sequences WHERE portfolio_hash = ?`,
		portfolioHash).Scan(&total, &evaluated)
	if err != nil {
		return false, fmt.Errorf("failed to check evaluation status: %w", err)
	}
	return total > 0 && evaluated == total, nil
}

// GetTotalSequenceCount returns the number of sequences for the hash.
func (r *Repository) GetTotalSequenceCount(ctx context.Context, portfolioHash string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM planner_sequences WHERE portfolio_hash = ?", portfolioHash).Scan(&count)
	return count, err
}

// GetEvaluationCount returns how many sequences are already scored.
func (r *Repository) GetEvaluationCount(ctx context.Context, portfolioHash string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM planner_sequences WHERE portfolio_hash = ? AND evaluated = 1",
		portfolioHash).Scan(&count)
	return count, err
}

// PersistSequences stores sequences as unevaluated. Duplicate sequence
// hashes within the portfolio hash are ignored.
func (r *Repository) PersistSequences(ctx context.Context, portfolioHash string, sequences []domain.Sequence) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sequence persist: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	persisted := 0
	for _, seq := range sequences {
		actions, err := json.Marshal(seq)
		if err != nil {
			return 0, fmt.Errorf("failed to encode sequence: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO planner_sequences (portfolio_hash, sequence_hash, actions, evaluated, created_at)
			VALUES (?, ?, ?, 0, ?)`,
			portfolioHash, SequenceHash(seq), string(actions), now)
		if err != nil {
			return 0, fmt.Errorf("failed to persist sequence: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			persisted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return persisted, nil
}

// GetUnevaluated returns up to limit unevaluated sequences for the hash.
func (r *Repository) GetUnevaluated(ctx context.Context, portfolioHash string, limit int) (map[string]domain.Sequence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence_hash, actions FROM planner_sequences
		WHERE portfolio_hash = ? AND evaluated = 0 ORDER BY sequence_hash LIMIT ?`,
		portfolioHash, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unevaluated sequences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Sequence)
	for rows.Next() {
		var seqHash, actions string
		if err := rows.Scan(&seqHash, &actions); err != nil {
			return nil, err
		}
		var seq domain.Sequence
		if err := json.Unmarshal([]byte(actions), &seq); err != nil {
			return nil, fmt.Errorf("failed to decode sequence %s: %w", seqHash, err)
		}
		out[seqHash] = seq
	}
	return out, rows.Err()
}

// MarkSequenceEvaluated records a sequence's end-state score.
func (r *Repository) MarkSequenceEvaluated(ctx context.Context, portfolioHash, sequenceHash string, score float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE planner_sequences SET evaluated = 1, score = ?
		WHERE portfolio_hash = ? AND sequence_hash = ?`,
		score, portfolioHash, sequenceHash)
	if err != nil {
		return fmt.Errorf("failed to mark sequence evaluated: %w", err)
	}
	return nil
}

// GetBestResult returns the highest-scoring evaluated sequence, or
// ErrNotFound when nothing is evaluated yet.
func (r *Repository) GetBestResult(ctx context.Context, portfolioHash string) (*BestResult, error) {
	var best BestResult
	err := r.db.QueryRowContext(ctx, `
		SELECT sequence_hash, score FROM planner_sequences
		WHERE portfolio_hash = ? AND evaluated = 1 AND score IS NOT NULL
		ORDER BY score DESC, sequence_hash LIMIT 1`, portfolioHash).
		Scan(&best.SequenceHash, &best.Score)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get best result: %w", err)
	}
	return &best, nil
}

// GetBestSequenceFromHash returns the actions of one stored sequence.
func (r *Repository) GetBestSequenceFromHash(ctx context.Context, portfolioHash, sequenceHash string) (domain.Sequence, error) {
	var actions string
	err := r.db.QueryRowContext(ctx, `
		SELECT actions FROM planner_sequences WHERE portfolio_hash = ? AND sequence_hash = ?`,
		portfolioHash, sequenceHash).Scan(&actions)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence: %w", err)
	}
	var seq domain.Sequence
	if err := json.Unmarshal([]byte(actions), &seq); err != nil {
		return nil, fmt.Errorf("failed to decode sequence: %w", err)
	}
	return seq, nil
}

// DeleteForOtherHashes garbage-collects sequences whose hash has been
// superseded.
func (r *Repository) DeleteForOtherHashes(ctx context.Context, keepHash string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM planner_sequences WHERE portfolio_hash != ?", keepHash)
	if err != nil {
		return 0, fmt.Errorf("failed to prune superseded sequences: %w", err)
	}
	return res.RowsAffected()
}
