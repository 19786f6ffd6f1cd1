// Package analysis computes per-symbol metrics from price history: CAGR,
// annualized volatility, max drawdown, Sharpe and Sortino, and the
// indicator-driven quality scores. Results land in the metrics table and
// feed end-state scoring.
package analysis

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/prices"
	"github.com/aristath/helmsman/internal/modules/scoring"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/strategy"
)

// tradingDaysPerYear annualizes daily return statistics.
const tradingDaysPerYear = 252

// Service computes and stores metrics and scores.
type Service struct {
	db         *sql.DB
	prices     *prices.Repository
	securities *universe.SecurityRepository
	scores     *universe.ScoreRepository
	log        zerolog.Logger
}

// NewService creates an analysis service.
func NewService(db *sql.DB, priceRepo *prices.Repository, securities *universe.SecurityRepository,
	scores *universe.ScoreRepository, log zerolog.Logger) *Service {
	return &Service{
		db:         db,
		prices:     priceRepo,
		securities: securities,
		scores:     scores,
		log:        log.With().Str("service", "analysis").Logger(),
	}
}

// ComputeMetrics derives the metric set from a daily close series (oldest
// first). Series shorter than ~60 days yield nothing.
func ComputeMetrics(closes []float64) scoring.Metrics {
	if len(closes) < 60 {
		return nil
	}

	returns := make([]float64, 0, len(closes)-1)
	var downside []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		r := closes[i]/closes[i-1] - 1.0
		returns = append(returns, r)
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(returns) < 30 {
		return nil
	}

	meanDaily := stat.Mean(returns, nil)
	stdDaily := stat.StdDev(returns, nil)
	annualReturn := meanDaily * tradingDaysPerYear
	annualVol := stdDaily * math.Sqrt(tradingDaysPerYear)

	sharpe := 0.0
	if annualVol > 0 {
		sharpe = annualReturn / annualVol
	}

	sortino := 0.0
	if len(downside) >= 2 {
		downsideVol := stat.StdDev(downside, nil) * math.Sqrt(tradingDaysPerYear)
		if downsideVol > 0 {
			sortino = annualReturn / downsideVol
		}
	}

	// Max drawdown against the rolling yearly peak (talib tracks it).
	peakWindow := tradingDaysPerYear
	if peakWindow > len(closes) {
		peakWindow = len(closes)
	}
	peaks := talib.Max(closes, peakWindow)
	maxDD := 0.0
	for i, peak := range peaks {
		if peak <= 0 {
			continue
		}
		dd := closes[i]/peak - 1.0
		if dd < maxDD {
			maxDD = dd
		}
	}

	// CAGR over up to five years of history.
	lookback := len(closes)
	if lookback > 5*tradingDaysPerYear {
		lookback = 5 * tradingDaysPerYear
	}
	first := closes[len(closes)-lookback]
	last := closes[len(closes)-1]
	cagr := 0.0
	if first > 0 && last > 0 {
		years := float64(lookback) / tradingDaysPerYear
		cagr = math.Pow(last/first, 1.0/years) - 1.0
	}

	// Consistency: how close the price rides its long moving average.
	consistency := 0.5
	if len(closes) >= 200 {
		sma := talib.Sma(closes, 200)
		above := 0
		counted := 0
		for i, m := range sma {
			if m <= 0 {
				continue
			}
			counted++
			if closes[i] >= m {
				above++
			}
		}
		if counted > 0 {
			consistency = float64(above) / float64(counted)
		}
	}

	return scoring.Metrics{
		scoring.MetricCAGR5Y:           cagr,
		scoring.MetricVolatilityAnnual: annualVol,
		scoring.MetricMaxDrawdown:      maxDD,
		scoring.MetricSharpe:           sharpe,
		scoring.MetricSortino:          sortino,
		scoring.MetricConsistencyScore: consistency,
	}
}

// RecomputeMetrics refreshes the stored metrics for one symbol.
func (s *Service) RecomputeMetrics(ctx context.Context, symbol string) error {
	closes, err := s.prices.GetCloses(ctx, symbol, 6*tradingDaysPerYear, "")
	if err != nil {
		return err
	}
	metrics := ComputeMetrics(closes)
	if metrics == nil {
		s.log.Debug().Str("symbol", symbol).Msg("Insufficient history for metrics")
		return nil
	}

	now := time.Now().Unix()
	for key, value := range metrics {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO metrics (symbol, metric, value, computed_at)
			VALUES (?, ?, ?, ?)`, symbol, string(key), value, now); err != nil {
			return fmt.Errorf("failed to store metric %s for %s: %w", key, symbol, err)
		}
	}
	return nil
}

// Metrics loads the stored metric cache for a symbol set.
func (s *Service) Metrics(ctx context.Context, symbols []string) (map[string]scoring.Metrics, error) {
	out := make(map[string]scoring.Metrics, len(symbols))
	for _, symbol := range symbols {
		rows, err := s.db.QueryContext(ctx,
			"SELECT metric, value FROM metrics WHERE symbol = ?", symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to load metrics for %s: %w", symbol, err)
		}
		metrics := make(scoring.Metrics)
		for rows.Next() {
			var key string
			var value float64
			if err := rows.Scan(&key, &value); err != nil {
				rows.Close()
				return nil, err
			}
			metrics[scoring.MetricKey(key)] = value
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(metrics) > 0 {
			out[symbol] = metrics
		}
	}
	return out, nil
}

// UpdateScores recomputes and stores scores for every active security.
// Returns the number scored.
func (s *Service) UpdateScores(ctx context.Context) (int, error) {
	securities, err := s.securities.GetAllActive(ctx)
	if err != nil {
		return 0, err
	}

	scored := 0
	for _, sec := range securities {
		closes, err := s.prices.GetCloses(ctx, sec.Symbol, 400, "")
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Price lookup failed for scoring")
			continue
		}
		metrics := ComputeMetrics(closes)
		signal := strategy.ComputeSignal(closes)

		longTerm := scoring.LongTermPromise(metrics)
		stability := scoring.Stability(metrics)
		fundamentals := scoring.TotalReturnScore(metrics)
		opportunity := signal.OppScore

		total := 0.35*longTerm + 0.25*fundamentals + 0.25*stability + 0.15*opportunity
		score := &domain.Score{
			Symbol:       sec.Symbol,
			TotalScore:   math.Min(1.0, math.Max(0.0, total)),
			LongTerm:     longTerm,
			Fundamentals: fundamentals,
			Opportunity:  opportunity,
			Opinion:      0.5,
			CalculatedAt: time.Now(),
		}
		if err := s.scores.Save(ctx, score); err != nil {
			s.log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Score save failed")
			continue
		}
		scored++
	}
	return scored, nil
}
