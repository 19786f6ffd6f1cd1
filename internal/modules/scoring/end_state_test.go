package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileWeightsSumToOne(t *testing.T) {
	for _, profile := range []RiskProfile{ProfileConservative, ProfileBalanced, ProfileAggressive, "unknown"} {
		w := ProfileWeights(profile)
		sum := w.TotalReturn + w.Diversification + w.LongTermPromise + w.Stability + w.Opinion
		assert.InDelta(t, 1.0, sum, 1e-12, string(profile))
	}
}

func TestSortinoScorePiecewise(t *testing.T) {
	assert.Equal(t, 1.0, SortinoScore(2.5))
	assert.Equal(t, 1.0, SortinoScore(2.0))
	assert.InDelta(t, 0.8, SortinoScore(1.5), 1e-12)
	assert.InDelta(t, 0.6, SortinoScore(1.0), 1e-12)
	assert.InDelta(t, 0.3, SortinoScore(0.5), 1e-12)
	assert.Zero(t, SortinoScore(-0.5))
}

func TestDividendConsistencyFromPayout(t *testing.T) {
	assert.Equal(t, 1.0, DividendConsistencyFromPayout(0.30))
	assert.Equal(t, 1.0, DividendConsistencyFromPayout(0.45))
	assert.Equal(t, 1.0, DividendConsistencyFromPayout(0.60))
	assert.InDelta(t, 0.5, DividendConsistencyFromPayout(0.0), 1e-12)
	// Boundary at 0.80 is inclusive on the decreasing side.
	assert.InDelta(t, 0.7, DividendConsistencyFromPayout(0.80), 1e-12)
	assert.Equal(t, 0.4, DividendConsistencyFromPayout(0.81))
}

func TestVolatilityScorePiecewise(t *testing.T) {
	assert.Equal(t, 1.0, VolatilityScore(0.10))
	assert.Equal(t, 1.0, VolatilityScore(0.15))
	assert.InDelta(t, 0.7, VolatilityScore(0.25), 1e-12)
	assert.InDelta(t, 0.3, VolatilityScore(0.40), 1e-12)
	assert.InDelta(t, 0.1, VolatilityScore(0.80), 1e-12)
}

func TestDrawdownScorePiecewise(t *testing.T) {
	assert.Equal(t, 1.0, DrawdownScore(-0.05))
	assert.Equal(t, 1.0, DrawdownScore(0.10))
	assert.InDelta(t, 0.8, DrawdownScore(0.20), 1e-12)
	assert.InDelta(t, 0.6, DrawdownScore(0.30), 1e-12)
	assert.InDelta(t, 0.2, DrawdownScore(0.50), 1e-12)
	assert.InDelta(t, 0.0, DrawdownScore(0.75), 1e-12)
}

func TestEndStateScoreInvalidPortfolio(t *testing.T) {
	assert.Equal(t, 0.5, EndStateScore(EndStateInput{}))
	assert.Equal(t, 0.5, EndStateScore(EndStateInput{TotalValue: 100}))
}

func TestEndStateScoreWeightsMetrics(t *testing.T) {
	in := EndStateInput{
		Positions:            map[string]float64{"GOOD": 5000, "WEAK": 5000},
		TotalValue:           10000,
		DiversificationScore: 0.8,
		MetricsCache: map[string]Metrics{
			"GOOD": {
				MetricCAGR5Y: 0.12, MetricDividendYield: 0.02,
				MetricConsistencyScore: 1.0, MetricFinancialStrength: 1.0,
				MetricDividendConsistency: 1.0, MetricSortino: 2.5,
				MetricVolatilityAnnual: 0.10, MetricMaxDrawdown: -0.08, MetricSharpe: 2.1,
			},
			"WEAK": {
				MetricCAGR5Y: -0.05, MetricConsistencyScore: 0.2,
				MetricFinancialStrength: 0.2, MetricDividendConsistency: 0.2,
				MetricSortino: -1.0, MetricVolatilityAnnual: 0.60,
				MetricMaxDrawdown: -0.60, MetricSharpe: -0.5,
			},
		},
		Profile: ProfileBalanced,
	}

	mixed := EndStateScore(in)

	// A portfolio fully in the strong name must outscore the mix.
	in.Positions = map[string]float64{"GOOD": 10000}
	allGood := EndStateScore(in)
	assert.Greater(t, allGood, mixed)

	// And the all-weak portfolio must score lowest.
	in.Positions = map[string]float64{"WEAK": 10000}
	allWeak := EndStateScore(in)
	assert.Less(t, allWeak, mixed)
}

func TestEndStateScoreMissingMetricsUseDefaults(t *testing.T) {
	in := EndStateInput{
		Positions:            map[string]float64{"X": 1000},
		TotalValue:           1000,
		DiversificationScore: 0.5,
		MetricsCache:         map[string]Metrics{},
		Profile:              ProfileBalanced,
	}
	got := EndStateScore(in)
	// Returns default to 0 while promise/stability/opinion default to 0.5.
	want := 0.0*0.35 + 0.5*0.25 + 0.5*0.20 + 0.5*0.15 + 0.5*0.05
	assert.InDelta(t, want, got, 1e-12)
}

func TestEndStateScoreIsDeterministic(t *testing.T) {
	// Several positions so summation order matters; repeated evaluations
	// of the same portfolio must agree bit-for-bit or sequence rankings
	// could flip between runs.
	in := EndStateInput{
		Positions: map[string]float64{
			"AAA": 1000.3, "BBB": 2000.7, "CCC": 1500.1, "DDD": 900.9, "EEE": 1200.5,
		},
		TotalValue:           6602.5,
		DiversificationScore: 0.6,
		MetricsCache: map[string]Metrics{
			"AAA": {MetricCAGR5Y: 0.07, MetricSharpe: 1.1},
			"BBB": {MetricCAGR5Y: 0.11, MetricVolatilityAnnual: 0.22},
			"CCC": {MetricMaxDrawdown: -0.18, MetricSortino: 1.3},
			"DDD": {MetricCAGR5Y: 0.03, MetricDividendYield: 0.02},
			"EEE": {MetricConsistencyScore: 0.9},
		},
		Profile: ProfileBalanced,
	}

	first := EndStateScore(in)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, EndStateScore(in), "score must be bitwise identical across evaluations")
	}
}

func TestRiskProfileShiftsScore(t *testing.T) {
	in := EndStateInput{
		Positions:            map[string]float64{"X": 1000},
		TotalValue:           1000,
		DiversificationScore: 1.0,
		MetricsCache: map[string]Metrics{
			"X": {MetricVolatilityAnnual: 0.10, MetricMaxDrawdown: -0.05, MetricSharpe: 2.0},
		},
	}
	in.Profile = ProfileConservative
	conservative := EndStateScore(in)
	in.Profile = ProfileAggressive
	aggressive := EndStateScore(in)

	// Zero-return, high-stability portfolio favors the conservative table.
	assert.Greater(t, conservative, aggressive)
}
