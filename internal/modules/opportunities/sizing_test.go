package opportunities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBuyQuantityRespectsLots(t *testing.T) {
	// Scenario A shape: EUR 900 target at $120 with EUR/USD parity-ish
	// rate: 8 whole shares.
	sized := CalculateBuyQuantity(900, 120, 1, 0.926)
	assert.Equal(t, 8, sized.Quantity)
	assert.InDelta(t, 8*120*0.926, sized.ValueEUR, 1e-9)

	// Lot of 100: rounds down to whole lots.
	sized = CalculateBuyQuantity(1000, 4, 100, 0.12)
	// target local = 1000/0.12 = 8333; 8333/4 = 2083 shares; floor to 2000.
	assert.Equal(t, 2000, sized.Quantity)

	// Target below one lot still yields one lot.
	sized = CalculateBuyQuantity(100, 4, 100, 1.0)
	assert.Equal(t, 100, sized.Quantity)
}

func TestCalculateBuyQuantityInvalidInputs(t *testing.T) {
	assert.Zero(t, CalculateBuyQuantity(1000, 0, 1, 1.0).Quantity)
	assert.Zero(t, CalculateBuyQuantity(1000, 10, 1, 0).Quantity)
}

func TestCalculateSellQuantityCapsAtHoldings(t *testing.T) {
	// Want EUR 5000 but hold 30 shares at 100: whole position.
	sized := CalculateSellQuantity(5000, 100, 1, 30, 1.0)
	assert.Equal(t, 30, sized.Quantity)

	// Want EUR 450 at 100/share: rounds up to 5 shares.
	sized = CalculateSellQuantity(450, 100, 1, 30, 1.0)
	assert.Equal(t, 5, sized.Quantity)

	// Holdings below one lot sell nothing.
	sized = CalculateSellQuantity(450, 100, 100, 50, 1.0)
	assert.Zero(t, sized.Quantity)
}

func TestParamsMergeAndAccessors(t *testing.T) {
	base := Params{"a": 1.5, "b": 2, "c": true}
	merged := base.Merge(map[string]any{"b": 7, "d": "x"})

	assert.Equal(t, 1.5, merged.Float("a", 0))
	assert.Equal(t, 7, merged.Int("b", 0))
	assert.True(t, merged.Bool("c", false))
	assert.Equal(t, 9.0, merged.Float("missing", 9.0))

	// Base is untouched.
	assert.Equal(t, 2, base.Int("b", 0))
}
