package rebalancing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/strategy"
)

func TestDesiredTrancheStage(t *testing.T) {
	assert.Equal(t, 0, DesiredTrancheStage(-0.05))
	assert.Equal(t, 0, DesiredTrancheStage(0.0))
	assert.Equal(t, 1, DesiredTrancheStage(-0.12))
	assert.Equal(t, 1, DesiredTrancheStage(-0.15))
	assert.Equal(t, 2, DesiredTrancheStage(-0.20))
	assert.Equal(t, 2, DesiredTrancheStage(-0.25))
	assert.Equal(t, 3, DesiredTrancheStage(-0.28))
	assert.Equal(t, 3, DesiredTrancheStage(-0.50))
}

func TestForcedExitScaleoutT1(t *testing.T) {
	exit := ForcedOpportunityExit(strategy.Signal{}, SymbolState{ScaleoutStage: 0},
		100, 110, 100, 1, time.Now(), 120)
	require.NotNil(t, exit)
	assert.Equal(t, "scaleout_10", exit.ReasonCode)
	assert.Equal(t, 30, exit.Quantity, "sell 30% of the position")
}

func TestForcedExitScaleoutT2(t *testing.T) {
	exit := ForcedOpportunityExit(strategy.Signal{}, SymbolState{ScaleoutStage: 1},
		70, 118, 100, 1, time.Now(), 120)
	require.NotNil(t, exit)
	assert.Equal(t, "scaleout_18", exit.ReasonCode)
}

func TestForcedExitMomentumRollover(t *testing.T) {
	signal := strategy.Signal{Mom20: -0.02, Mom60: 0.05}
	exit := ForcedOpportunityExit(signal, SymbolState{ScaleoutStage: 1},
		50, 105, 100, 10, time.Now(), 120)
	require.NotNil(t, exit)
	assert.Equal(t, "exit_momentum", exit.ReasonCode)
	assert.Equal(t, 50, exit.Quantity, "full lot-aligned exit")
}

func TestForcedExitTimeStop(t *testing.T) {
	state := SymbolState{ScaleoutStage: 0, LastEntryAt: time.Now().AddDate(0, 0, -150)}
	// Gain below 10%, position old enough: rotate out.
	exit := ForcedOpportunityExit(strategy.Signal{}, state, 40, 103, 100, 1, time.Now(), 120)
	require.NotNil(t, exit)
	assert.Equal(t, "time_stop_rotation", exit.ReasonCode)
}

func TestForcedExitNilWhenNothingTriggers(t *testing.T) {
	// Small gain, no stages, young position.
	exit := ForcedOpportunityExit(strategy.Signal{Mom20: 0.02, Mom60: 0.01},
		SymbolState{LastEntryAt: time.Now()}, 40, 102, 100, 1, time.Now(), 120)
	assert.Nil(t, exit)
}

func TestCalculatePrioritySigns(t *testing.T) {
	buy := CalculatePriority(domain.SideBuy, 0.05, 0.3)
	sell := CalculatePriority(domain.SideSell, -0.05, 0.3)
	assert.InDelta(t, 0.8, buy, 1e-12)
	assert.InDelta(t, 0.2, sell, 1e-12)
	// Stronger contrarian signal raises buy priority, lowers sell priority.
	assert.Greater(t, CalculatePriority(domain.SideBuy, 0.05, 0.6), buy)
	assert.Less(t, CalculatePriority(domain.SideSell, -0.05, 0.6), sell)
}

func TestCalculateTransactionCost(t *testing.T) {
	assert.InDelta(t, 2.0+1000*0.002, CalculateTransactionCost(1000, 2.0, 0.002), 1e-12)
}
