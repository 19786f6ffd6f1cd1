package generators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/helmsman/internal/domain"
)

func candidate(side domain.TradeSide, symbol string, priority float64) domain.ActionCandidate {
	return domain.ActionCandidate{
		Side: side, Symbol: symbol, Quantity: 1, Price: 100, ValueEUR: 100,
		Currency: "EUR", Priority: priority,
	}
}

func sellsPrecedeBuys(t *testing.T, seq domain.Sequence) {
	t.Helper()
	seenBuy := false
	for _, action := range seq {
		if action.Side == domain.SideBuy {
			seenBuy = true
		} else if seenBuy {
			t.Fatalf("sell after buy in sequence %v", seq)
		}
	}
}

func TestCombinatorialOrderingAndCaps(t *testing.T) {
	pool := []domain.ActionCandidate{
		candidate(domain.SideSell, "S1", 1.0),
		candidate(domain.SideSell, "S2", 0.9),
		candidate(domain.SideBuy, "B1", 1.2),
		candidate(domain.SideBuy, "B2", 0.8),
		candidate(domain.SideBuy, "B3", 0.5),
	}
	gen := Combinatorial{}
	params := gen.DefaultParams().Merge(map[string]any{"max_combinations": 20, "max_steps": 4})

	sequences := gen.Generate(pool, params)

	assert.NotEmpty(t, sequences)
	assert.LessOrEqual(t, len(sequences), 20)
	for _, seq := range sequences {
		sellsPrecedeBuys(t, seq)
		assert.LessOrEqual(t, len(seq), 4)
	}
}

func TestCombinatorialPriorityThresholdFiltersCandidates(t *testing.T) {
	pool := []domain.ActionCandidate{
		candidate(domain.SideSell, "S1", 0.1), // Below threshold
		candidate(domain.SideBuy, "B1", 0.9),
	}
	gen := Combinatorial{}

	sequences := gen.Generate(pool, gen.DefaultParams())
	// Only one sell exists and it is filtered, so no sell+buy combination
	// can form.
	assert.Empty(t, sequences)
}

func TestEnhancedCombinatorialIsSeededDeterministic(t *testing.T) {
	pool := []domain.ActionCandidate{
		candidate(domain.SideSell, "S1", 1.0),
		candidate(domain.SideSell, "S2", 0.6),
		candidate(domain.SideBuy, "B1", 1.2),
		candidate(domain.SideBuy, "B2", 0.8),
	}
	gen := EnhancedCombinatorial{}
	params := gen.DefaultParams().Merge(map[string]any{"seed": 42, "max_combinations": 15})

	a := gen.Generate(pool, params)
	b := gen.Generate(pool, params)
	assert.Equal(t, a, b)

	for _, seq := range a {
		sellsPrecedeBuys(t, seq)
	}
}

func TestEnhancedCombinatorialDiversityRejectsNearDuplicates(t *testing.T) {
	securities := map[string]domain.Security{
		"B1": {Symbol: "B1", Country: "US", Industry: "Tech"},
		"B2": {Symbol: "B2", Country: "US", Industry: "Tech"},
	}
	gen := EnhancedCombinatorial{SecuritiesBySymbol: securities}
	pool := []domain.ActionCandidate{
		candidate(domain.SideBuy, "B1", 1.0),
		candidate(domain.SideBuy, "B2", 1.0),
	}
	params := gen.DefaultParams().Merge(map[string]any{"seed": 7, "max_combinations": 50})

	sequences := gen.Generate(pool, params)

	// Every sequence shares the identical US/Tech footprint, so after the
	// first acceptance the diversity constraint rejects the rest.
	assert.Len(t, sequences, 1)
}
