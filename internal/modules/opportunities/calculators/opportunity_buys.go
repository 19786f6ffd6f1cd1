package calculators

import (
	"context"
	"fmt"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// OpportunityBuys proposes quality-gated new buys: securities whose score
// meets the threshold (inclusive), priced from quotes or held positions.
type OpportunityBuys struct{}

func (OpportunityBuys) Name() string { return "opportunity_buys" }

func (OpportunityBuys) DefaultParams() opportunities.Params {
	return opportunities.Params{
		"min_quality_score":     0.7,
		"base_trade_amount_eur": 1000.0,
	}
}

func (OpportunityBuys) Calculate(ctx context.Context, pctx *opportunities.PortfolioContext,
	params opportunities.Params) ([]domain.ActionCandidate, error) {

	minQuality := params.Float("min_quality_score", 0.7)
	baseAmount := params.Float("base_trade_amount_eur", 1000.0)

	var out []domain.ActionCandidate
	for _, sec := range pctx.Securities {
		if !sec.AllowBuy {
			continue
		}
		quality := pctx.Score(sec.Symbol)
		if quality < minQuality {
			continue
		}

		price := pctx.PriceFor(sec.Symbol)
		if price <= 0 {
			continue
		}

		rate, err := pctx.Rates.GetRate(ctx, sec.Currency, "EUR")
		if err != nil {
			continue
		}
		sized := opportunities.CalculateBuyQuantity(baseAmount, price, sec.MinLot, rate)
		if sized.Quantity == 0 || sized.ValueEUR <= 0 {
			continue
		}

		multiplier := sec.PriorityMultiplier
		if multiplier <= 0 {
			multiplier = 1.0
		}

		out = append(out, domain.ActionCandidate{
			Side:     domain.SideBuy,
			Symbol:   sec.Symbol,
			Name:     sec.Name,
			Quantity: sized.Quantity,
			Price:    price,
			ValueEUR: sized.ValueEUR,
			Currency: sec.Currency,
			Priority: quality * multiplier,
			Reason:   fmt.Sprintf("High quality (score: %.2f)", quality),
			Tags:     []string{"quality", "opportunity"},
		})
	}
	return out, nil
}
