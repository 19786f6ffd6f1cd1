// Package calculators contains the concrete opportunity calculators.
package calculators

import (
	"context"
	"fmt"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// ProfitTaking trims positions showing windfall gains: price has run far
// past cost basis, so part of the position is sold to lock the excess in.
type ProfitTaking struct{}

func (ProfitTaking) Name() string { return "profit_taking" }

func (ProfitTaking) DefaultParams() opportunities.Params {
	return opportunities.Params{
		"windfall_threshold": 0.30, // Gain beyond which trimming starts
		"sell_fraction":      0.25, // Share of the position to trim
		"priority_weight":    1.2,
	}
}

func (ProfitTaking) Calculate(ctx context.Context, pctx *opportunities.PortfolioContext,
	params opportunities.Params) ([]domain.ActionCandidate, error) {

	threshold := params.Float("windfall_threshold", 0.30)
	sellFraction := params.Float("sell_fraction", 0.25)
	priorityWeight := params.Float("priority_weight", 1.2)

	var out []domain.ActionCandidate
	for _, pos := range pctx.Positions {
		sec := pctx.SecurityFor(pos.Symbol)
		if sec == nil || !sec.AllowSell || pos.Quantity <= 0 {
			continue
		}
		price := pos.CurrentPrice
		if price <= 0 {
			price = pos.AvgPrice
		}
		if price <= 0 || pos.AvgPrice <= 0 {
			continue
		}

		gain := price/pos.AvgPrice - 1.0
		if gain < threshold {
			continue
		}

		sellQty := (int(float64(pos.Quantity)*sellFraction) / sec.MinLot) * sec.MinLot
		if sellQty < sec.MinLot {
			sellQty = sec.MinLot
		}
		if sellQty > pos.Quantity {
			continue
		}

		rate, err := pctx.Rates.GetRate(ctx, pos.Currency, "EUR")
		if err != nil {
			// Missing rate skips the candidate, never the pass.
			continue
		}
		valueEUR := float64(sellQty) * price * rate
		if valueEUR <= 0 {
			continue
		}

		// Higher conviction lowers sell priority.
		multiplier := sec.PriorityMultiplier
		if multiplier <= 0 {
			multiplier = 1.0
		}
		priority := (gain + 0.5) * priorityWeight / multiplier

		out = append(out, domain.ActionCandidate{
			Side:     domain.SideSell,
			Symbol:   pos.Symbol,
			Name:     sec.Name,
			Quantity: sellQty,
			Price:    price,
			ValueEUR: valueEUR,
			Currency: pos.Currency,
			Priority: priority,
			Reason:   fmt.Sprintf("Windfall gain %.0f%%, taking profits", gain*100),
			Tags:     []string{"windfall", "profit_taking"},
		})
	}
	return out, nil
}
