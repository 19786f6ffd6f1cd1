// Package scoring evaluates candidate terminal portfolios. The end-state
// score is the scalar the planner maximizes when comparing trade
// sequences: a risk-profile-weighted blend of total return,
// diversification, long-term promise, stability, and analyst opinion.
package scoring

import (
	"math"
	"sort"
)

// MetricKey identifies one cached per-symbol metric.
type MetricKey string

const (
	MetricCAGR5Y              MetricKey = "CAGR_5Y"
	MetricDividendYield       MetricKey = "DIVIDEND_YIELD"
	MetricConsistencyScore    MetricKey = "CONSISTENCY_SCORE"
	MetricFinancialStrength   MetricKey = "FINANCIAL_STRENGTH"
	MetricDividendConsistency MetricKey = "DIVIDEND_CONSISTENCY"
	MetricPayoutRatio         MetricKey = "PAYOUT_RATIO"
	MetricSortino             MetricKey = "SORTINO"
	MetricVolatilityAnnual    MetricKey = "VOLATILITY_ANNUAL"
	MetricMaxDrawdown         MetricKey = "MAX_DRAWDOWN"
	MetricSharpe              MetricKey = "SHARPE"
)

// Metrics is the cached metric set for one symbol.
type Metrics map[MetricKey]float64

// RiskProfile selects the end-state weight table.
type RiskProfile string

const (
	ProfileConservative RiskProfile = "conservative"
	ProfileBalanced     RiskProfile = "balanced"
	ProfileAggressive   RiskProfile = "aggressive"
)

// Weights is one risk profile's component weighting (sums to 1.0).
type Weights struct {
	TotalReturn     float64
	Diversification float64
	LongTermPromise float64
	Stability       float64
	Opinion         float64
}

// ProfileWeights returns the weight table for a risk profile. Unknown
// profiles fall back to balanced.
func ProfileWeights(profile RiskProfile) Weights {
	switch profile {
	case ProfileConservative:
		return Weights{TotalReturn: 0.25, Diversification: 0.30, LongTermPromise: 0.20, Stability: 0.20, Opinion: 0.05}
	case ProfileAggressive:
		return Weights{TotalReturn: 0.45, Diversification: 0.20, LongTermPromise: 0.25, Stability: 0.05, Opinion: 0.05}
	default:
		return Weights{TotalReturn: 0.35, Diversification: 0.25, LongTermPromise: 0.20, Stability: 0.15, Opinion: 0.05}
	}
}

// Long-term promise sub-weights.
const (
	promiseWeightConsistency       = 0.35
	promiseWeightFinancials        = 0.25
	promiseWeightDividendStability = 0.25
	promiseWeightSortino           = 0.15
)

// Stability sub-weights.
const (
	stabilityWeightVolatility = 0.50
	stabilityWeightDrawdown   = 0.30
	stabilityWeightSharpe     = 0.20
)

// ScoreTotalReturn maps a combined annual return (CAGR + dividend yield)
// to [0,1]. 12%+ scores 1.0; negatives score 0.
func ScoreTotalReturn(totalReturn float64) float64 {
	switch {
	case totalReturn >= 0.12:
		return 1.0
	case totalReturn >= 0.08:
		return 0.7 + (totalReturn-0.08)/0.04*0.3
	case totalReturn >= 0.04:
		return 0.4 + (totalReturn-0.04)/0.04*0.3
	case totalReturn >= 0:
		return totalReturn / 0.04 * 0.4
	default:
		return 0.0
	}
}

// TotalReturnScore scores CAGR_5Y + DIVIDEND_YIELD. Missing metrics count
// as zero return.
func TotalReturnScore(metrics Metrics) float64 {
	return ScoreTotalReturn(metrics[MetricCAGR5Y] + metrics[MetricDividendYield])
}

// DividendConsistencyFromPayout derives dividend consistency from the
// payout ratio: 1.0 in [0.30, 0.60], ramps on either side, 0.4 above 0.80
// (the 0.80 boundary is inclusive on the decreasing side).
func DividendConsistencyFromPayout(payout float64) float64 {
	switch {
	case payout >= 0.3 && payout <= 0.6:
		return 1.0
	case payout < 0.3:
		return 0.5 + (payout/0.3)*0.5
	case payout <= 0.8:
		return 1.0 - ((payout-0.6)/0.2)*0.3
	default:
		return 0.4
	}
}

// SortinoScore maps a Sortino ratio to [0,1].
func SortinoScore(sortino float64) float64 {
	switch {
	case sortino >= 2.0:
		return 1.0
	case sortino >= 1.5:
		return 0.8 + (sortino-1.5)*0.4
	case sortino >= 1.0:
		return 0.6 + (sortino-1.0)*0.4
	case sortino >= 0:
		return sortino * 0.6
	default:
		return 0.0
	}
}

// LongTermPromise blends consistency, financial strength, dividend
// consistency and Sortino into [0,1]. Missing sub-metrics default to 0.5.
func LongTermPromise(metrics Metrics) float64 {
	get := func(key MetricKey) (float64, bool) {
		v, ok := metrics[key]
		return v, ok
	}

	consistency := 0.5
	if v, ok := get(MetricConsistencyScore); ok {
		consistency = v
	}
	financial := 0.5
	if v, ok := get(MetricFinancialStrength); ok {
		financial = v
	}
	dividend := 0.5
	if v, ok := get(MetricDividendConsistency); ok {
		dividend = v
	} else if payout, ok := get(MetricPayoutRatio); ok {
		dividend = DividendConsistencyFromPayout(payout)
	}
	sortino := 0.5
	if v, ok := get(MetricSortino); ok {
		sortino = SortinoScore(v)
	}

	total := consistency*promiseWeightConsistency +
		financial*promiseWeightFinancials +
		dividend*promiseWeightDividendStability +
		sortino*promiseWeightSortino
	return math.Min(1.0, total)
}

// VolatilityScore maps annualized volatility to [0,1], inverse.
func VolatilityScore(volatility float64) float64 {
	switch {
	case volatility <= 0.15:
		return 1.0
	case volatility <= 0.25:
		return 1.0 - ((volatility-0.15)/0.10)*0.3
	case volatility <= 0.40:
		return 0.7 - ((volatility-0.25)/0.15)*0.4
	default:
		return math.Max(0.1, 0.3-(volatility-0.40))
	}
}

// DrawdownScore maps |max drawdown| to [0,1], inverse.
func DrawdownScore(maxDD float64) float64 {
	dd := math.Abs(maxDD)
	switch {
	case dd <= 0.10:
		return 1.0
	case dd <= 0.20:
		return 0.8 + (0.20-dd)*2
	case dd <= 0.30:
		return 0.6 + (0.30-dd)*2
	case dd <= 0.50:
		return 0.2 + (0.50-dd)*2
	default:
		return math.Max(0.0, 0.2-(dd-0.50))
	}
}

// SharpeScore maps a Sharpe ratio to [0,1].
func SharpeScore(sharpe float64) float64 {
	switch {
	case sharpe >= 2.0:
		return 1.0
	case sharpe >= 1.0:
		return 0.7 + (sharpe-1.0)*0.3
	case sharpe >= 0.5:
		return 0.4 + (sharpe-0.5)*0.6
	case sharpe >= 0:
		return sharpe * 0.8
	default:
		return 0.0
	}
}

// Stability blends inverse volatility, drawdown and Sharpe into [0,1].
// Missing sub-metrics default to 0.5.
func Stability(metrics Metrics) float64 {
	volatility := 0.5
	if v, ok := metrics[MetricVolatilityAnnual]; ok && v > 0 {
		volatility = VolatilityScore(v)
	}
	drawdown := 0.5
	if v, ok := metrics[MetricMaxDrawdown]; ok {
		drawdown = DrawdownScore(v)
	}
	sharpe := 0.5
	if v, ok := metrics[MetricSharpe]; ok {
		sharpe = SharpeScore(v)
	}

	total := volatility*stabilityWeightVolatility +
		drawdown*stabilityWeightDrawdown +
		sharpe*stabilityWeightSharpe
	return math.Min(1.0, total)
}

// EndStateInput is everything the portfolio-level score depends on.
type EndStateInput struct {
	Positions            map[string]float64 // symbol -> EUR value
	TotalValue           float64
	DiversificationScore float64
	MetricsCache         map[string]Metrics
	OpinionScore         float64 // default 0.5
	Profile              RiskProfile
}

// EndStateScore computes the value-weighted end-state score for a terminal
// portfolio. Invalid portfolios (no value, no positions) score 0.5.
func EndStateScore(in EndStateInput) float64 {
	if in.TotalValue <= 0 || len(in.Positions) == 0 {
		return 0.5
	}
	opinion := in.OpinionScore
	if opinion == 0 {
		opinion = 0.5
	}

	// Accumulate in sorted symbol order: float addition is not
	// associative, and map iteration order would otherwise let two
	// evaluations of the same portfolio disagree in the last bit and
	// flip the ranking of closely-scored sequences.
	symbols := make([]string, 0, len(in.Positions))
	for symbol := range in.Positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var weightedReturn, weightedPromise, weightedStability float64
	for _, symbol := range symbols {
		value := in.Positions[symbol]
		if value <= 0 {
			continue
		}
		weight := value / in.TotalValue
		metrics := in.MetricsCache[symbol]
		weightedReturn += TotalReturnScore(metrics) * weight
		weightedPromise += LongTermPromise(metrics) * weight
		weightedStability += Stability(metrics) * weight
	}

	w := ProfileWeights(in.Profile)
	score := weightedReturn*w.TotalReturn +
		in.DiversificationScore*w.Diversification +
		weightedPromise*w.LongTermPromise +
		weightedStability*w.Stability +
		opinion*w.Opinion
	return math.Min(1.0, score)
}
