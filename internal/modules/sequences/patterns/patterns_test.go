package patterns

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

func action(side domain.TradeSide, symbol string, valueEUR, priority float64) domain.ActionCandidate {
	return domain.ActionCandidate{
		Side: side, Symbol: symbol, Quantity: 1, Price: valueEUR,
		ValueEUR: valueEUR, Currency: "EUR", Priority: priority,
	}
}

func TestDirectBuyGreedyWithinCash(t *testing.T) {
	byCategory := map[string][]domain.ActionCandidate{
		"opportunity_buys": {
			action(domain.SideBuy, "AAA", 800, 2.0),
			action(domain.SideBuy, "BBB", 600, 1.5),
			action(domain.SideBuy, "CCC", 500, 1.0),
		},
	}
	gen := DirectBuy{}
	sequences := gen.Generate(byCategory, gen.DefaultParams().Merge(map[string]any{
		"available_cash_eur": 1500.0,
	}))

	require.Len(t, sequences, 1)
	// AAA (800) then BBB (600) fit; CCC does not.
	require.Len(t, sequences[0], 2)
	assert.Equal(t, "AAA", sequences[0][0].Symbol)
	assert.Equal(t, "BBB", sequences[0][1].Symbol)
}

func TestDirectBuyWithoutCash(t *testing.T) {
	gen := DirectBuy{}
	assert.Empty(t, gen.Generate(map[string][]domain.ActionCandidate{
		"opportunity_buys": {action(domain.SideBuy, "AAA", 800, 2.0)},
	}, gen.DefaultParams()))
}

func TestSingleBestPicksHighestFeasible(t *testing.T) {
	byCategory := map[string][]domain.ActionCandidate{
		"profit_taking":    {action(domain.SideSell, "SSS", 400, 0.9)},
		"opportunity_buys": {action(domain.SideBuy, "BBB", 900, 3.0)},
	}
	gen := SingleBest{}

	// Buy is highest priority but exceeds cash: nothing.
	sequences := gen.Generate(byCategory, gen.DefaultParams().Merge(map[string]any{
		"available_cash_eur": 100.0,
	}))
	assert.Empty(t, sequences)

	// With cash the buy wins.
	sequences = gen.Generate(byCategory, gen.DefaultParams().Merge(map[string]any{
		"available_cash_eur": 1000.0,
	}))
	require.Len(t, sequences, 1)
	assert.Equal(t, "BBB", sequences[0][0].Symbol)
}

func TestProfitTakingPatternReinvestsProceeds(t *testing.T) {
	byCategory := map[string][]domain.ActionCandidate{
		"profit_taking":  {action(domain.SideSell, "WIN", 1000, 1.5)},
		"averaging_down": {action(domain.SideBuy, "DIP", 900, 1.0)},
	}
	gen := ProfitTakingPattern{}
	sequences := gen.Generate(byCategory, gen.DefaultParams())

	require.Len(t, sequences, 1)
	seq := sequences[0]
	require.Len(t, seq, 2)
	assert.Equal(t, domain.SideSell, seq[0].Side)
	assert.Equal(t, domain.SideBuy, seq[1].Side, "sale proceeds fund the buy")
}

func TestRegistryEnforcesSellsFirst(t *testing.T) {
	registry := NewRegistry([]Generator{ProfitTakingPattern{}}, nil, zerolog.Nop())
	byCategory := map[string][]domain.ActionCandidate{
		"profit_taking":  {action(domain.SideSell, "WIN", 500, 1.5)},
		"averaging_down": {action(domain.SideBuy, "DIP", 400, 3.0)},
	}
	sequences := registry.GenerateAll(byCategory, map[string]any{"available_cash_eur": 0.0})

	for _, seq := range sequences {
		seenBuy := false
		for _, a := range seq {
			if a.Side == domain.SideBuy {
				seenBuy = true
			} else {
				assert.False(t, seenBuy, "sells precede buys")
			}
		}
	}
}

func TestRegistryDisablesConfiguredModules(t *testing.T) {
	registry := NewRegistry([]Generator{DirectBuy{}, SingleBest{}},
		map[string]opportunities.ModuleConfig{
			"direct_buy": {Enabled: false},
		}, zerolog.Nop())

	assert.NotContains(t, registryNames(registry), "direct_buy")
	assert.Contains(t, registryNames(registry), "single_best")
}

func registryNames(r *Registry) []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func TestCashGenerationStopsAtTarget(t *testing.T) {
	byCategory := map[string][]domain.ActionCandidate{
		"rebalance_sells": {
			action(domain.SideSell, "AAA", 1500, 2.0),
			action(domain.SideSell, "BBB", 1500, 1.0),
		},
	}
	gen := CashGeneration{}
	sequences := gen.Generate(byCategory, gen.DefaultParams().Merge(map[string]any{
		"target_cash_eur": 1000.0,
	}))

	require.Len(t, sequences, 1)
	assert.Len(t, sequences[0], 1, "first sell already clears the target")
}
