package calculators

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// AveragingDown buys more of owned quality securities that dipped: the
// position is below cost, within the drawdown band, and the score still
// clears the quality gate (no falling knives).
type AveragingDown struct{}

func (AveragingDown) Name() string { return "averaging_down" }

func (AveragingDown) DefaultParams() opportunities.Params {
	return opportunities.Params{
		"max_drawdown":          -0.15,
		"min_quality_score":     0.6,
		"priority_weight":       0.9,
		"base_trade_amount_eur": 1000.0,
	}
}

func (AveragingDown) Calculate(ctx context.Context, pctx *opportunities.PortfolioContext,
	params opportunities.Params) ([]domain.ActionCandidate, error) {

	maxDrawdown := params.Float("max_drawdown", -0.15)
	minQuality := params.Float("min_quality_score", 0.6)
	priorityWeight := params.Float("priority_weight", 0.9)
	baseAmount := params.Float("base_trade_amount_eur", 1000.0)

	var out []domain.ActionCandidate
	for _, sec := range pctx.Securities {
		if !sec.AllowBuy {
			continue
		}
		pos := pctx.PositionFor(sec.Symbol)
		if pos == nil || pos.Quantity <= 0 {
			continue
		}
		price := pos.CurrentPrice
		if price <= 0 {
			price = pos.AvgPrice
		}
		if price <= 0 || pos.AvgPrice <= 0 {
			continue
		}

		lossPct := (price - pos.AvgPrice) / pos.AvgPrice
		// Down, but not past the drawdown band.
		if lossPct >= 0 || lossPct < maxDrawdown {
			continue
		}

		quality := pctx.Score(sec.Symbol)
		if quality < minQuality {
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
		priority := (quality + math.Abs(lossPct)) * priorityWeight * multiplier

		out = append(out, domain.ActionCandidate{
			Side:     domain.SideBuy,
			Symbol:   sec.Symbol,
			Name:     sec.Name,
			Quantity: sized.Quantity,
			Price:    price,
			ValueEUR: sized.ValueEUR,
			Currency: sec.Currency,
			Priority: priority,
			Reason:   fmt.Sprintf("Quality security down %.0f%%, averaging down", math.Abs(lossPct)*100),
			Tags:     []string{"averaging_down", "buy_low"},
		})
	}
	return out, nil
}
