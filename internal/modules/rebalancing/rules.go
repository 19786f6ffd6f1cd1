// Package rebalancing implements the deterministic rebalance engine:
// per-symbol base actions driven by the contrarian signal and the
// tranche/scale-out state machine, cash-constraint reconciliation, and
// deficit-funding sells.
package rebalancing

import (
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/strategy"
)

// Drawdown thresholds for entry tranches.
const (
	TrancheT1 = -0.12
	TrancheT2 = -0.20
	TrancheT3 = -0.28
)

// SymbolState is the per-symbol position of the opportunity state
// machine. Stages move on executed trades, not planned ones.
type SymbolState struct {
	Symbol         string
	TrancheStage   int // 0..3 drawdown-entry tranches taken
	ScaleoutStage  int // 0..2 partial-profit sells taken
	LastEntryPrice float64
	LastEntryAt    time.Time
}

// DesiredTrancheStage maps a drawdown value onto the target tranche.
func DesiredTrancheStage(dd252 float64) int {
	switch {
	case dd252 <= TrancheT3:
		return 3
	case dd252 <= TrancheT2:
		return 2
	case dd252 <= TrancheT1:
		return 1
	default:
		return 0
	}
}

// ForcedExit is a sell the opportunity rules demand regardless of targets.
type ForcedExit struct {
	Quantity   int
	Reason     string
	ReasonCode string
}

// ForcedOpportunityExit evaluates the scale-out / momentum-exit /
// time-stop rules for one position. Returns nil when nothing triggers.
func ForcedOpportunityExit(signal strategy.Signal, state SymbolState, currentQty int,
	price, avgCost float64, lotSize int, now time.Time, timeStopDays int) *ForcedExit {

	if currentQty <= 0 {
		return nil
	}
	entryPrice := avgCost
	if entryPrice <= 0 {
		entryPrice = state.LastEntryPrice
	}
	if entryPrice <= 0 {
		entryPrice = price
	}
	if entryPrice <= 0 || price <= 0 {
		return nil
	}
	if lotSize < 1 {
		lotSize = 1
	}

	gain := price/entryPrice - 1.0
	// Scale-out thresholds are inclusive; the tolerance keeps an exact
	// +10%/+18% move (e.g. 118 vs 100) from missing by float rounding.
	const gainTolerance = 1e-9

	if state.ScaleoutStage < 1 && gain >= 0.10-gainTolerance {
		qty := (int(float64(currentQty)*0.30) / lotSize) * lotSize
		if qty < lotSize {
			qty = lotSize
		}
		return &ForcedExit{
			Quantity:   qty,
			Reason:     "Opportunity scale-out T1 (+10% from entry)",
			ReasonCode: "scaleout_10",
		}
	}

	if state.ScaleoutStage < 2 && gain >= 0.18-gainTolerance {
		qty := (int(float64(currentQty)*0.30) / lotSize) * lotSize
		if qty < lotSize {
			qty = lotSize
		}
		return &ForcedExit{
			Quantity:   qty,
			Reason:     "Opportunity scale-out T2 (+18% from entry)",
			ReasonCode: "scaleout_18",
		}
	}

	if state.ScaleoutStage >= 1 && gain > 0 && signal.Mom20 < signal.Mom60 {
		return &ForcedExit{
			Quantity:   (currentQty / lotSize) * lotSize,
			Reason:     "Opportunity exit on momentum rollover after recovery",
			ReasonCode: "exit_momentum",
		}
	}

	if !state.LastEntryAt.IsZero() {
		ageDays := int(now.Sub(state.LastEntryAt).Hours() / 24)
		if ageDays >= timeStopDays && gain < 0.10 {
			return &ForcedExit{
				Quantity:   (currentQty / lotSize) * lotSize,
				Reason:     fmt.Sprintf("Opportunity time-stop rotation (%d days without progress)", timeStopDays),
				ReasonCode: "time_stop_rotation",
			}
		}
	}

	return nil
}

// CalculatePriority derives recommendation priority: 10x the allocation
// gap, with the contrarian score raising buys and lowering sells.
func CalculatePriority(action domain.TradeSide, allocationDelta, contrarianScore float64) float64 {
	base := abs(allocationDelta) * 10
	if action == domain.SideBuy {
		return base + contrarianScore
	}
	return base - contrarianScore
}

// CalculateTransactionCost returns the fee for a trade value.
func CalculateTransactionCost(value, fixedFee, pctFee float64) float64 {
	return fixedFee + value*pctFee
}

// BuyReason renders the human-readable rationale for a buy.
func BuyReason(contrarianScore, currentAlloc, targetAlloc float64, signal strategy.Signal, lotClass domain.LotClass) string {
	if currentAlloc == 0 {
		return fmt.Sprintf("New contrarian entry (%s lot): dip=%.2f, cap=%.2f, turn=%d, score=%.2f",
			lotClass, signal.DipScore, signal.CapitulationScore, signal.CycleTurn, contrarianScore)
	}
	return fmt.Sprintf("Underweight by %.1f%%. Contrarian score=%.2f, dip=%.2f, cap=%.2f, turn=%d, lot=%s",
		(targetAlloc-currentAlloc)*100, contrarianScore, signal.DipScore, signal.CapitulationScore,
		signal.CycleTurn, lotClass)
}

// SellReason renders the human-readable rationale for a sell.
func SellReason(symbol string, contrarianScore, currentAlloc, targetAlloc float64, sleeve domain.Sleeve) string {
	if targetAlloc == 0 {
		if contrarianScore < 0 {
			return fmt.Sprintf("Exit %s position: %s has weak contrarian score (%.2f)", sleeve, symbol, contrarianScore)
		}
		return fmt.Sprintf("Exit %s position: %s not in target portfolio", sleeve, symbol)
	}
	return fmt.Sprintf("Overweight by %.1f%% in %s sleeve. Reduce to target allocation",
		(currentAlloc-targetAlloc)*100, sleeve)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
