package rebalancing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/strategy"
)

// eurRates answers every pair at 1.0 (EUR-only test world).
type eurRates struct{}

func (eurRates) ToEUR(_ context.Context, amount float64, _ string) (float64, error) {
	return amount, nil
}

func (eurRates) GetRate(context.Context, string, string) (float64, error) {
	return 1.0, nil
}

func testContext(positions []domain.Position, securities []domain.Security) *opportunities.PortfolioContext {
	return &opportunities.PortfolioContext{
		Positions:  positions,
		Securities: securities,
		Signals:    map[string]strategy.Signal{},
		Rates:      eurRates{},
	}
}

func newEngine() *Engine {
	return NewEngine(eurRates{}, DefaultKnobs(), zerolog.Nop())
}

func buyRec(symbol string, valueEUR float64, qty int, priority float64) domain.TradeRecommendation {
	return domain.TradeRecommendation{
		Symbol: symbol, Action: domain.SideBuy, ValueDeltaEUR: valueEUR,
		Quantity: qty, Price: valueEUR / float64(qty), Currency: "EUR",
		LotSize: 1, Priority: priority,
	}
}

func TestCashConstraintPassThroughWhenBudgetCovers(t *testing.T) {
	engine := newEngine()
	in := Input{
		Context:     testContext(nil, nil),
		Allocations: map[string]float64{"AAA": 1.0},
		CashEUR:     5000,
		TotalValue:  10000,
	}
	recs := []domain.TradeRecommendation{buyRec("AAA", 1000, 10, 1.0)}

	out, err := engine.applyCashConstraint(context.Background(), in, recs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1000.0, out[0].ValueDeltaEUR)
}

func TestCashConstraintTrimsBelowMedianBuys(t *testing.T) {
	engine := newEngine()
	securities := []domain.Security{
		{Symbol: "HIGH", PriorityMultiplier: 1.0, AllowBuy: true, MinLot: 1, Currency: "EUR"},
		{Symbol: "MID", PriorityMultiplier: 0.6, AllowBuy: true, MinLot: 1, Currency: "EUR"},
		{Symbol: "LOW", PriorityMultiplier: 0.1, AllowBuy: true, MinLot: 1, Currency: "EUR"},
	}
	in := Input{
		Context:     testContext(nil, securities),
		Allocations: map[string]float64{},
		CashEUR:     2100,
		TotalValue:  10000,
	}
	recs := []domain.TradeRecommendation{
		buyRec("HIGH", 1000, 10, 2.0),
		buyRec("MID", 1000, 10, 1.5),
		buyRec("LOW", 1000, 10, 0.5),
	}

	out, err := engine.applyCashConstraint(context.Background(), in, recs)
	require.NoError(t, err)

	symbols := map[string]bool{}
	for _, r := range out {
		symbols[r.Symbol] = true
	}
	assert.False(t, symbols["LOW"], "weakest-rank buy is trimmed first")
	assert.True(t, symbols["HIGH"])
}

func TestCashConstraintScalesBuysToMinimumLots(t *testing.T) {
	engine := newEngine()
	in := Input{
		Context:     testContext(nil, nil),
		Allocations: map[string]float64{},
		CashEUR:     700,
		TotalValue:  10000,
	}
	// One 1200 EUR buy against a 700 EUR budget: scale down to whole lots
	// above min trade value (500 EUR).
	recs := []domain.TradeRecommendation{buyRec("AAA", 1200, 12, 1.0)}

	out, err := engine.applyCashConstraint(context.Background(), in, recs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Less(t, out[0].ValueDeltaEUR, 700.0)
	assert.GreaterOrEqual(t, out[0].ValueDeltaEUR, 500.0)
	assert.Positive(t, out[0].Quantity)
}

func TestDeficitSellsWeakestFirstForCashDeficit(t *testing.T) {
	engine := newEngine()
	positions := []domain.Position{
		{Symbol: "WEAK", Quantity: 100, CurrentPrice: 10, Currency: "EUR", MarketValueEUR: 1000},
		{Symbol: "STRONG", Quantity: 100, CurrentPrice: 10, Currency: "EUR", MarketValueEUR: 1000},
	}
	securities := []domain.Security{
		{Symbol: "WEAK", AllowSell: true, MinLot: 1, Currency: "EUR", PriorityMultiplier: 0.5},
		{Symbol: "STRONG", AllowSell: true, MinLot: 1, Currency: "EUR", PriorityMultiplier: 0.5},
	}
	pctx := testContext(positions, securities)
	pctx.Signals = map[string]strategy.Signal{
		"WEAK":   {OppScore: 0.1},
		"STRONG": {OppScore: 0.9},
	}
	in := Input{
		Context:      pctx,
		Allocations:  map[string]float64{},
		CashBalances: map[string]float64{"EUR": -200, "USD": 0},
		TotalValue:   2000,
	}

	sells, err := engine.cashDeficitSells(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, sells)
	assert.Equal(t, "WEAK", sells[0].Symbol, "weakest score sells first")
	assert.Equal(t, "cash_deficit_repair", sells[0].ReasonCode)
	assert.Negative(t, sells[0].ValueDeltaEUR)
}

func TestDeficitCoveredByPositiveBalancesYieldsNoSells(t *testing.T) {
	engine := newEngine()
	in := Input{
		Context:      testContext(nil, nil),
		Allocations:  map[string]float64{},
		CashBalances: map[string]float64{"EUR": -100, "USD": 900},
		TotalValue:   2000,
	}

	sells, err := engine.cashDeficitSells(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, sells)
}

func TestFundingRotationHonorsConvictionCap(t *testing.T) {
	engine := newEngine()
	positions := []domain.Position{
		{Symbol: "PRIZED", Quantity: 100, CurrentPrice: 10, Currency: "EUR", MarketValueEUR: 1000},
	}
	securities := []domain.Security{
		{Symbol: "PRIZED", AllowSell: true, MinLot: 1, Currency: "EUR", PriorityMultiplier: 1.0},
	}
	in := Input{
		Context:     testContext(positions, securities),
		Allocations: map[string]float64{},
		TotalValue:  2000,
	}

	// Intended buy has conviction 0.3; the only holding has 1.0 — never
	// rotate a higher-conviction holding into a lower-conviction buy.
	buyCap := 0.3
	sells, err := engine.generateDeficitSells(context.Background(), in, 500, "funding_rotation", &buyCap)
	require.NoError(t, err)
	assert.Empty(t, sells)
}

func TestBuildRecommendationsSignsAndOrdering(t *testing.T) {
	engine := newEngine()
	positions := []domain.Position{
		{Symbol: "OVER", Quantity: 100, CurrentPrice: 10, AvgPrice: 8, Currency: "EUR", MarketValueEUR: 1000},
	}
	securities := []domain.Security{
		{Symbol: "OVER", AllowBuy: true, AllowSell: true, MinLot: 1, Currency: "EUR", PriorityMultiplier: 1.0, Active: true},
		{Symbol: "UNDER", AllowBuy: true, AllowSell: true, MinLot: 1, Currency: "EUR", PriorityMultiplier: 1.0, Active: true},
	}
	pctx := testContext(positions, securities)
	pctx.Prices = map[string]float64{"UNDER": 50}
	in := Input{
		Context: pctx,
		Allocations: map[string]float64{
			"OVER":  0.05, // currently 0.5 of 2000 = 10x over
			"UNDER": 0.5,
		},
		Sleeves:    map[string]domain.Sleeve{"OVER": domain.SleeveCore, "UNDER": domain.SleeveCore},
		CashEUR:    1000,
		TotalValue: 2000,
	}

	recs, err := engine.BuildRecommendations(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	seenBuy := false
	for _, r := range recs {
		if r.Action == domain.SideBuy {
			seenBuy = true
			assert.Positive(t, r.ValueDeltaEUR, "buy deltas are positive")
		} else {
			assert.False(t, seenBuy, "sells precede buys")
			assert.Negative(t, r.ValueDeltaEUR, "sell deltas are negative")
		}
		assert.Zero(t, r.Quantity%r.LotSize, "whole-lot quantities")
	}
}

func TestCoreFloorBlocksSellBelowFloor(t *testing.T) {
	knobs := DefaultKnobs()
	knobs.CoreFloorPct = 0.04 // Floor at 4% of 10000 = 400 EUR
	engine := NewEngine(eurRates{}, knobs, zerolog.Nop())

	sec := &domain.Security{Symbol: "CORE", MinLot: 1, Currency: "EUR", AllowSell: true}
	rec := engine.sellRecommendation(sellSpec{
		sec: sec, qty: 45, price: 10, rate: 1.0,
		currentValue: 500, // Selling 450 EUR would leave 50 < 400 floor
		sleeve:       domain.SleeveCore,
		totalValue:   10000,
	})

	// The floor caps the sell at 100 EUR (500 - 400).
	assert.True(t, rec.CoreFloorActive)
	assert.LessOrEqual(t, rec.Quantity, 10)
	assert.Positive(t, rec.Quantity)
}
