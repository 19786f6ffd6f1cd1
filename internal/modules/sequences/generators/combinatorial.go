package generators

import (
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// Combinatorial exhaustively enumerates sell/buy combinations under the
// configured caps. Sequences are sells first, then buys.
type Combinatorial struct{}

func (Combinatorial) Name() string { return "combinatorial" }

func (Combinatorial) DefaultParams() opportunities.Params {
	return opportunities.Params{
		"max_sells":          3,
		"max_buys":           3,
		"priority_threshold": 0.3,
		"max_steps":          5,
		"max_combinations":   50,
		"max_candidates":     12,
	}
}

func (Combinatorial) Generate(candidates []domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	maxSells := params.Int("max_sells", 3)
	maxBuys := params.Int("max_buys", 3)
	threshold := params.Float("priority_threshold", 0.3)
	maxSteps := params.Int("max_steps", 5)
	maxCombinations := params.Int("max_combinations", 50)
	maxCandidates := params.Int("max_candidates", 12)

	sells, buys := splitSides(candidates)
	sells = filterByPriority(sells, threshold)
	buys = filterByPriority(buys, threshold)
	if len(sells) > maxCandidates {
		sells = sells[:maxCandidates]
	}
	if len(buys) > maxCandidates {
		buys = buys[:maxCandidates]
	}

	var sequences []domain.Sequence

	for numSells := 1; numSells <= maxSells && numSells <= len(sells); numSells++ {
		if len(sequences) >= maxCombinations {
			break
		}
		for _, sellCombo := range combinations(sells, numSells) {
			if len(sequences) >= maxCombinations {
				break
			}
			remainingSteps := maxSteps - len(sellCombo)
			if remainingSteps <= 0 {
				continue
			}
			maxBuysForCombo := min(maxBuys, remainingSteps, len(buys))
			for numBuys := 1; numBuys <= maxBuysForCombo; numBuys++ {
				if len(sequences) >= maxCombinations {
					break
				}
				for _, buyCombo := range combinations(buys, numBuys) {
					if len(sequences) >= maxCombinations {
						break
					}
					seq := make(domain.Sequence, 0, len(sellCombo)+len(buyCombo))
					seq = append(seq, sellCombo...)
					seq = append(seq, buyCombo...)
					if len(seq) <= maxSteps {
						sequences = append(sequences, seq)
					}
				}
			}
		}
	}
	return sequences
}

// combinations enumerates k-subsets in lexicographic index order.
func combinations(pool []domain.ActionCandidate, k int) [][]domain.ActionCandidate {
	if k <= 0 || k > len(pool) {
		return nil
	}
	var out [][]domain.ActionCandidate
	indices := make([]int, k)
	for i := range indices {
		indices[i] = i
	}
	for {
		combo := make([]domain.ActionCandidate, k)
		for i, idx := range indices {
			combo[i] = pool[idx]
		}
		out = append(out, combo)

		// Advance indices.
		i := k - 1
		for i >= 0 && indices[i] == len(pool)-k+i {
			i--
		}
		if i < 0 {
			return out
		}
		indices[i]++
		for j := i + 1; j < k; j++ {
			indices[j] = indices[j-1] + 1
		}
	}
}

func min(values ...int) int {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}
