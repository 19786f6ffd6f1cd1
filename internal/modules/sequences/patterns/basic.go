package patterns

import (
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// DirectBuy greedily buys the highest-priority opportunities that fit in
// available cash. Buys only.
type DirectBuy struct{}

func (DirectBuy) Name() string { return "direct_buy" }

func (DirectBuy) DefaultParams() opportunities.Params {
	return opportunities.Params{"max_depth": 5, "available_cash_eur": 0.0}
}

func (DirectBuy) Generate(byCategory map[string][]domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	availableCash := params.Float("available_cash_eur", 0.0)
	maxDepth := params.Int("max_depth", 5)
	if availableCash <= 0 {
		return nil
	}

	var seq domain.Sequence
	remaining := availableCash
	for _, candidate := range byPriorityDesc(allBuys(byCategory)) {
		if candidate.ValueEUR <= remaining && len(seq) < maxDepth {
			seq = append(seq, candidate)
			remaining -= candidate.ValueEUR
		}
	}
	if len(seq) == 0 {
		return nil
	}
	return []domain.Sequence{seq}
}

// SingleBest emits the one highest-priority feasible action: the minimal
// intervention strategy.
type SingleBest struct{}

func (SingleBest) Name() string { return "single_best" }

func (SingleBest) DefaultParams() opportunities.Params {
	return opportunities.Params{"max_depth": 1, "available_cash_eur": 0.0}
}

func (SingleBest) Generate(byCategory map[string][]domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	if params.Int("max_depth", 1) < 1 {
		return nil
	}
	availableCash := params.Float("available_cash_eur", 0.0)

	candidates := allCandidates(byCategory)
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority > best.Priority {
			best = c
		}
	}

	if best.Side == domain.SideBuy && best.ValueEUR > availableCash {
		return nil
	}
	return []domain.Sequence{{best}}
}

// ProfitTakingPattern sells windfalls first, then reinvests the proceeds
// into quality buys.
type ProfitTakingPattern struct{}

func (ProfitTakingPattern) Name() string { return "profit_taking" }

func (ProfitTakingPattern) DefaultParams() opportunities.Params {
	return opportunities.Params{"max_depth": 5, "available_cash_eur": 0.0}
}

func (ProfitTakingPattern) Generate(byCategory map[string][]domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	profitTaking := byCategory["profit_taking"]
	if len(profitTaking) == 0 {
		return nil
	}
	maxDepth := params.Int("max_depth", 5)
	availableCash := params.Float("available_cash_eur", 0.0)

	seq := make(domain.Sequence, 0, maxDepth)
	for _, sell := range profitTaking {
		if len(seq) >= maxDepth {
			break
		}
		seq = append(seq, sell)
	}

	totalCash := availableCash
	for _, sell := range seq {
		totalCash += sell.ValueEUR
	}

	quality := byPriorityDesc(append(append([]domain.ActionCandidate{},
		byCategory["averaging_down"]...), byCategory["rebalance_buys"]...))
	for _, buy := range quality {
		if buy.ValueEUR <= totalCash && len(seq) < maxDepth {
			seq = append(seq, buy)
			totalCash -= buy.ValueEUR
		}
	}
	return []domain.Sequence{seq}
}
