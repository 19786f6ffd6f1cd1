package calculators

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// groupGap measures how far one country/industry group sits from its
// target weight. Positive gap = underweight.
type groupGap struct {
	group string
	gap   float64
}

// underweightGroups returns groups below target, biggest gap first.
func underweightGroups(current, targets map[string]float64) []groupGap {
	var out []groupGap
	for group, target := range targets {
		if gap := target - current[group]; gap > 0.01 {
			out = append(out, groupGap{group: group, gap: gap})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].gap > out[j].gap })
	return out
}

// overweightGroups returns groups above target, biggest excess first.
func overweightGroups(current, targets map[string]float64) []groupGap {
	var out []groupGap
	for group, alloc := range current {
		target := targets[group]
		if excess := alloc - target; excess > 0.01 {
			out = append(out, groupGap{group: group, gap: excess})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].gap > out[j].gap })
	return out
}

// groupOf resolves a security's country group via the context maps.
func groupOf(pctx *opportunities.PortfolioContext, sec *domain.Security) string {
	if group, ok := pctx.CountryToGroup[sec.Country]; ok {
		return group
	}
	return sec.Country
}

// RebalanceBuys buys into underweight country groups, best-scored
// securities first.
type RebalanceBuys struct{}

func (RebalanceBuys) Name() string { return "rebalance_buys" }

func (RebalanceBuys) DefaultParams() opportunities.Params {
	return opportunities.Params{
		"base_trade_amount_eur": 1000.0,
		"max_per_group":         2,
		"priority_weight":       1.0,
	}
}

func (RebalanceBuys) Calculate(ctx context.Context, pctx *opportunities.PortfolioContext,
	params opportunities.Params) ([]domain.ActionCandidate, error) {

	baseAmount := params.Float("base_trade_amount_eur", 1000.0)
	maxPerGroup := params.Int("max_per_group", 2)
	priorityWeight := params.Float("priority_weight", 1.0)

	var out []domain.ActionCandidate
	for _, uw := range underweightGroups(pctx.CountryAllocations, pctx.CountryWeights) {
		// Candidates in this group, best score first.
		var members []domain.Security
		for _, sec := range pctx.Securities {
			if sec.AllowBuy && groupOf(pctx, &sec) == uw.group {
				members = append(members, sec)
			}
		}
		sort.Slice(members, func(i, j int) bool {
			return pctx.Score(members[i].Symbol) > pctx.Score(members[j].Symbol)
		})
		if len(members) > maxPerGroup {
			members = members[:maxPerGroup]
		}

		for _, sec := range members {
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
				Priority: (uw.gap*10 + pctx.Score(sec.Symbol)) * priorityWeight * multiplier,
				Reason:   fmt.Sprintf("Group %s underweight by %.1f%%", uw.group, uw.gap*100),
				Tags:     []string{"rebalance", "underweight"},
			})
		}
	}
	return out, nil
}

// RebalanceSells trims holdings in overweight country groups, weakest
// scores first.
type RebalanceSells struct{}

func (RebalanceSells) Name() string { return "rebalance_sells" }

func (RebalanceSells) DefaultParams() opportunities.Params {
	return opportunities.Params{
		"trim_amount_eur": 1000.0,
		"max_per_group":   2,
		"priority_weight": 1.0,
	}
}

func (RebalanceSells) Calculate(ctx context.Context, pctx *opportunities.PortfolioContext,
	params opportunities.Params) ([]domain.ActionCandidate, error) {

	trimAmount := params.Float("trim_amount_eur", 1000.0)
	maxPerGroup := params.Int("max_per_group", 2)
	priorityWeight := params.Float("priority_weight", 1.0)

	var out []domain.ActionCandidate
	for _, ow := range overweightGroups(pctx.CountryAllocations, pctx.CountryWeights) {
		// Held members of the group, weakest score first.
		var held []domain.Position
		for _, pos := range pctx.Positions {
			sec := pctx.SecurityFor(pos.Symbol)
			if sec != nil && sec.AllowSell && pos.Quantity > 0 && groupOf(pctx, sec) == ow.group {
				held = append(held, pos)
			}
		}
		sort.Slice(held, func(i, j int) bool {
			return pctx.Score(held[i].Symbol) < pctx.Score(held[j].Symbol)
		})
		if len(held) > maxPerGroup {
			held = held[:maxPerGroup]
		}

		for _, pos := range held {
			sec := pctx.SecurityFor(pos.Symbol)
			price := pos.CurrentPrice
			if price <= 0 {
				continue
			}
			rate, err := pctx.Rates.GetRate(ctx, pos.Currency, "EUR")
			if err != nil {
				continue
			}
			sized := opportunities.CalculateSellQuantity(trimAmount, price, sec.MinLot, pos.Quantity, rate)
			if sized.Quantity == 0 || sized.ValueEUR <= 0 {
				continue
			}
			multiplier := sec.PriorityMultiplier
			if multiplier <= 0 {
				multiplier = 1.0
			}
			out = append(out, domain.ActionCandidate{
				Side:     domain.SideSell,
				Symbol:   pos.Symbol,
				Name:     sec.Name,
				Quantity: sized.Quantity,
				Price:    price,
				ValueEUR: sized.ValueEUR,
				Currency: pos.Currency,
				// Conviction lowers sell priority.
				Priority: (ow.gap*10 + (1 - pctx.Score(pos.Symbol))) * priorityWeight / multiplier,
				Reason:   fmt.Sprintf("Group %s overweight by %.1f%%", ow.group, ow.gap*100),
				Tags:     []string{"rebalance", "overweight"},
			})
		}
	}
	return out, nil
}
