package patterns

import (
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// OpportunityFirst prioritizes tactical opportunity buys over everything
// else, funding them from available cash only.
type OpportunityFirst struct{}

func (OpportunityFirst) Name() string { return "opportunity_first" }

func (OpportunityFirst) DefaultParams() opportunities.Params {
	return opportunities.Params{"max_depth": 4, "available_cash_eur": 0.0}
}

func (OpportunityFirst) Generate(byCategory map[string][]domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	maxDepth := params.Int("max_depth", 4)
	remaining := params.Float("available_cash_eur", 0.0)
	if remaining <= 0 {
		return nil
	}

	var seq domain.Sequence
	for _, buy := range byPriorityDesc(byCategory["opportunity_buys"]) {
		if buy.ValueEUR <= remaining && len(seq) < maxDepth {
			seq = append(seq, buy)
			remaining -= buy.ValueEUR
		}
	}
	if len(seq) == 0 {
		return nil
	}
	return []domain.Sequence{seq}
}

// CashGeneration sells the weakest sell candidates to raise cash without
// buying anything back. Used when the cash balance needs rebuilding.
type CashGeneration struct{}

func (CashGeneration) Name() string { return "cash_generation" }

func (CashGeneration) DefaultParams() opportunities.Params {
	return opportunities.Params{"max_depth": 3, "target_cash_eur": 2000.0}
}

func (CashGeneration) Generate(byCategory map[string][]domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	maxDepth := params.Int("max_depth", 3)
	targetCash := params.Float("target_cash_eur", 2000.0)

	sells := byPriorityDesc(append(append([]domain.ActionCandidate{},
		byCategory["profit_taking"]...), byCategory["rebalance_sells"]...))
	if len(sells) == 0 {
		return nil
	}

	var seq domain.Sequence
	var raised float64
	for _, sell := range sells {
		if len(seq) >= maxDepth || raised >= targetCash {
			break
		}
		seq = append(seq, sell)
		raised += sell.ValueEUR
	}
	if len(seq) == 0 {
		return nil
	}
	return []domain.Sequence{seq}
}

// CostOptimized prefers fewer, larger trades: it picks the candidates with
// the best value-per-trade so fixed transaction costs amortize.
type CostOptimized struct{}

func (CostOptimized) Name() string { return "cost_optimized" }

func (CostOptimized) DefaultParams() opportunities.Params {
	return opportunities.Params{"max_depth": 2, "available_cash_eur": 0.0, "min_trade_eur": 800.0}
}

func (CostOptimized) Generate(byCategory map[string][]domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	maxDepth := params.Int("max_depth", 2)
	remaining := params.Float("available_cash_eur", 0.0)
	minTrade := params.Float("min_trade_eur", 800.0)

	buys := make([]domain.ActionCandidate, 0)
	for _, buy := range allBuys(byCategory) {
		if buy.ValueEUR >= minTrade {
			buys = append(buys, buy)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].ValueEUR > buys[j].ValueEUR })

	var seq domain.Sequence
	for _, buy := range buys {
		if buy.ValueEUR <= remaining && len(seq) < maxDepth {
			seq = append(seq, buy)
			remaining -= buy.ValueEUR
		}
	}
	if len(seq) == 0 {
		return nil
	}
	return []domain.Sequence{seq}
}

// DeepRebalance pairs the strongest rebalance sells with the strongest
// rebalance buys for a larger allocation correction in one sequence.
type DeepRebalance struct{}

func (DeepRebalance) Name() string { return "deep_rebalance" }

func (DeepRebalance) DefaultParams() opportunities.Params {
	return opportunities.Params{"max_sells": 2, "max_buys": 3, "available_cash_eur": 0.0}
}

func (DeepRebalance) Generate(byCategory map[string][]domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	maxSells := params.Int("max_sells", 2)
	maxBuys := params.Int("max_buys", 3)
	cash := params.Float("available_cash_eur", 0.0)

	sells := byPriorityDesc(byCategory["rebalance_sells"])
	buys := byPriorityDesc(byCategory["rebalance_buys"])
	if len(sells) == 0 && len(buys) == 0 {
		return nil
	}
	if len(sells) > maxSells {
		sells = sells[:maxSells]
	}

	var seq domain.Sequence
	budget := cash
	for _, sell := range sells {
		seq = append(seq, sell)
		budget += sell.ValueEUR
	}
	added := 0
	for _, buy := range buys {
		if added >= maxBuys {
			break
		}
		if buy.ValueEUR <= budget {
			seq = append(seq, buy)
			budget -= buy.ValueEUR
			added++
		}
	}
	if len(seq) == 0 {
		return nil
	}
	return []domain.Sequence{seq}
}
