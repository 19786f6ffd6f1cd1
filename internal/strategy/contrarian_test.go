package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/helmsman/internal/domain"
)

func flatSeries(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestShortSeriesYieldsNeutralSignal(t *testing.T) {
	sig := ComputeSignal(flatSeries(129, 100))

	assert.Equal(t, 50.0, sig.RSI14)
	assert.Equal(t, 1.0, sig.VolRatio)
	assert.Zero(t, sig.OppScore)
	assert.Zero(t, sig.DipScore)
	assert.Zero(t, sig.CoreRank)
}

func TestFlatSeriesHasNoDrawdownAndNoOpportunity(t *testing.T) {
	sig := ComputeSignal(flatSeries(300, 100))

	assert.InDelta(t, 0.0, sig.DD252, 1e-12)
	assert.Zero(t, sig.DipScore)
	// RSI of a flat series is 100 (no losses), so no capitulation.
	assert.Zero(t, sig.CapitulationScore)
	assert.Zero(t, sig.FreefallBlock)
}

func TestDeepDrawdownProducesDipScore(t *testing.T) {
	// 252 days at 100, then a slow grind down to 65 (-35%).
	closes := flatSeries(252, 100)
	for i := 0; i < 70; i++ {
		closes = append(closes, 100-0.5*float64(i+1))
	}
	sig := ComputeSignal(closes)

	assert.Less(t, sig.DD252, -0.3)
	assert.Greater(t, sig.DipScore, 0.9)
	assert.Greater(t, sig.OppScore, 0.0)
}

func TestComputeSignalIsDeterministic(t *testing.T) {
	closes := flatSeries(200, 100)
	for i := range closes {
		closes[i] += math.Sin(float64(i)/7.0) * 5
	}
	a := ComputeSignal(closes)
	b := ComputeSignal(closes)
	assert.Equal(t, a, b)
}

func TestEffectiveOpportunityScoreBoost(t *testing.T) {
	// No boost when cycle has not turned.
	assert.Equal(t, 0.4, EffectiveOpportunityScore(0.4, 0, 0, -0.20, -0.12, -0.28, 0.2))
	// No boost during freefall.
	assert.Equal(t, 0.4, EffectiveOpportunityScore(0.4, 1, 1, -0.20, -0.12, -0.28, 0.2))
	// No boost when drawdown never reached T1.
	assert.Equal(t, 0.4, EffectiveOpportunityScore(0.4, 1, 0, -0.05, -0.12, -0.28, 0.2))

	// At exactly T1 the boost floor applies: maxBoost * 0.4.
	got := EffectiveOpportunityScore(0.4, 1, 0, -0.12, -0.12, -0.28, 0.2)
	assert.InDelta(t, 0.4+0.2*0.4, got, 1e-9)

	// At T3 depth saturates: full maxBoost.
	got = EffectiveOpportunityScore(0.4, 1, 0, -0.28, -0.12, -0.28, 0.2)
	assert.InDelta(t, 0.4+0.2, got, 1e-9)

	// Result is clipped to 1.
	assert.Equal(t, 1.0, EffectiveOpportunityScore(0.95, 1, 0, -0.30, -0.12, -0.28, 0.5))
}

func TestClassifyLotSizeBands(t *testing.T) {
	// One lot of 100 shares at HKD 4 with fx 0.12 = 48 EUR + 2 fixed + 0.2% fee.
	c := ClassifyLotSize(4.0, 100, 0.12, 10000, 2.0, 0.002, 0.01, 0.05)
	assert.InDelta(t, 48+2+48*0.002, c.MinTicketEUR, 1e-9)
	assert.Equal(t, domain.LotStandard, c.LotClass)

	// Same ticket against a tiny portfolio is jumbo.
	c = ClassifyLotSize(4.0, 100, 0.12, 500, 2.0, 0.002, 0.01, 0.05)
	assert.Equal(t, domain.LotJumbo, c.LotClass)

	// Band edges are inclusive on the standard side.
	c = ClassifyLotSize(1.0, 100, 1.0, 10200, 2.0, 0.0, 0.01, 0.05)
	assert.Equal(t, domain.LotStandard, c.LotClass)

	// Zero portfolio value pins ticket_pct at 1.0.
	c = ClassifyLotSize(1.0, 1, 1.0, 0, 0, 0, 0.01, 0.05)
	assert.Equal(t, 1.0, c.TicketPct)
}

func TestComputeSymbolTargetsNormalizesToOne(t *testing.T) {
	signals := map[string]Signal{
		"AAA": {CoreRank: 0.2, OppScore: 0.7, Vol20: 0.02},
		"BBB": {CoreRank: -0.1, OppScore: 0.1, Vol20: 0.01},
		"CCC": {CoreRank: 0.05, OppScore: 0.5, Vol20: 0.03},
	}
	allocs, sleeves := ComputeSymbolTargets(signals, map[string]float64{"AAA": 1.0, "BBB": 1.0, "CCC": 1.0},
		TargetParams{CoreTarget: 0.8, OpportunityTarget: 0.2, MinOppScore: 0.45})

	var total float64
	for _, v := range allocs {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-12)

	// AAA and CCC cleared the opportunity threshold.
	assert.Equal(t, domain.SleeveOpportunity, sleeves["AAA"])
	assert.Equal(t, domain.SleeveOpportunity, sleeves["CCC"])
	assert.Equal(t, domain.SleeveCore, sleeves["BBB"])
}

func TestComputeSymbolTargetsThresholdIsInclusive(t *testing.T) {
	signals := map[string]Signal{
		"AAA": {CoreRank: 0.1, OppScore: 0.45, Vol20: 0.02},
	}
	_, sleeves := ComputeSymbolTargets(signals, nil,
		TargetParams{CoreTarget: 0.8, OpportunityTarget: 0.2, MinOppScore: 0.45})
	assert.Equal(t, domain.SleeveOpportunity, sleeves["AAA"])
}

func TestComputeSymbolTargetsFullyInvestedWithoutOpportunities(t *testing.T) {
	signals := map[string]Signal{
		"AAA": {CoreRank: 0.2, OppScore: 0.1, Vol20: 0.02},
		"BBB": {CoreRank: 0.0, OppScore: 0.0, Vol20: 0.02},
	}
	allocs, _ := ComputeSymbolTargets(signals, nil,
		TargetParams{CoreTarget: 0.8, OpportunityTarget: 0.2, MinOppScore: 0.45})

	var total float64
	for _, v := range allocs {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-12)
}

func TestComputeSymbolTargetsDeterministic(t *testing.T) {
	// Five candidates on both sleeves: with 3+ terms, float summation
	// order matters, so any map-order-dependent accumulation shows up as
	// a last-bit difference across repeated calls.
	signals := map[string]Signal{
		"AAA": {CoreRank: 0.2, OppScore: 0.7, Vol20: 0.02},
		"BBB": {CoreRank: -0.3, OppScore: 0.6, Vol20: 0.05},
		"CCC": {CoreRank: 0.1, OppScore: 0.55, Vol20: 0.03},
		"DDD": {CoreRank: 0.05, OppScore: 0.8, Vol20: 0.04},
		"EEE": {CoreRank: -0.1, OppScore: 0.65, Vol20: 0.01},
	}
	mult := map[string]float64{"AAA": 1.5, "BBB": 0.5, "CCC": 1.0, "DDD": 0.9, "EEE": 1.1}
	params := TargetParams{CoreTarget: 0.7, OpportunityTarget: 0.3, MinOppScore: 0.5, MaxOpportunityTarget: 0.5}

	first, firstSleeves := ComputeSymbolTargets(signals, mult, params)
	for i := 0; i < 50; i++ {
		allocs, sleeves := ComputeSymbolTargets(signals, mult, params)
		assert.Equal(t, first, allocs, "allocations must be bitwise identical across calls")
		assert.Equal(t, firstSleeves, sleeves)
	}
}

func TestZeroMultiplierExcludesSymbol(t *testing.T) {
	signals := map[string]Signal{
		"AAA": {CoreRank: 0.2, OppScore: 0.7, Vol20: 0.02},
		"BBB": {CoreRank: 0.2, OppScore: 0.7, Vol20: 0.02},
	}
	allocs, _ := ComputeSymbolTargets(signals, map[string]float64{"AAA": 0.0, "BBB": 1.0},
		TargetParams{CoreTarget: 0.8, OpportunityTarget: 0.2, MinOppScore: 0.5})

	_, hasAAA := allocs["AAA"]
	assert.False(t, hasAAA)
	assert.InDelta(t, 1.0, allocs["BBB"], 1e-12)
}
