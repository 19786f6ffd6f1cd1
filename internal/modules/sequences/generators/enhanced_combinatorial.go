package generators

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// EnhancedCombinatorial samples sequences with priority-squared weights
// and rejects sequences too similar to recent output: a candidate whose
// country AND industry sets overlap the last ten sequences by more than
// 80% on both axes adds nothing new.
type EnhancedCombinatorial struct {
	// SecuritiesBySymbol supplies country/industry for the diversity
	// check; without it every sequence counts as diverse.
	SecuritiesBySymbol map[string]domain.Security
}

func (EnhancedCombinatorial) Name() string { return "enhanced_combinatorial" }

func (EnhancedCombinatorial) DefaultParams() opportunities.Params {
	return opportunities.Params{
		"max_sells":          3,
		"max_buys":           3,
		"priority_threshold": 0.3,
		"max_steps":          5,
		"max_combinations":   50,
		"max_candidates":     12,
		"seed":               1,
	}
}

func (g EnhancedCombinatorial) Generate(candidates []domain.ActionCandidate, params opportunities.Params) []domain.Sequence {
	maxSells := params.Int("max_sells", 3)
	maxBuys := params.Int("max_buys", 3)
	threshold := params.Float("priority_threshold", 0.3)
	maxSteps := params.Int("max_steps", 5)
	maxCombinations := params.Int("max_combinations", 50)
	maxCandidates := params.Int("max_candidates", 12)

	sells, buys := splitSides(candidates)
	sells = filterByPriority(sells, threshold)
	buys = filterByPriority(buys, threshold)
	sort.SliceStable(sells, func(i, j int) bool { return sells[i].Priority > sells[j].Priority })
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].Priority > buys[j].Priority })
	if len(sells) > maxCandidates {
		sells = sells[:maxCandidates]
	}
	if len(buys) > maxCandidates {
		buys = buys[:maxCandidates]
	}
	if len(sells) == 0 && len(buys) == 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(int64(params.Int("seed", 1))))
	sellWeights := priorityWeights(sells)
	buyWeights := priorityWeights(buys)

	var sequences []domain.Sequence
	attempts := 0
	maxAttempts := maxCombinations * 3

	for len(sequences) < maxCombinations && attempts < maxAttempts {
		attempts++

		numSells := 0
		if len(sells) > 0 && maxSells > 0 {
			numSells = 1 + rng.Intn(min(maxSells, len(sells)))
		}
		numBuys := 0
		if len(buys) > 0 && maxBuys > 0 {
			numBuys = 1 + rng.Intn(min(maxBuys, len(buys)))
		}
		if numSells+numBuys > maxSteps || numSells+numBuys == 0 {
			continue
		}

		seq := make(domain.Sequence, 0, numSells+numBuys)
		seq = append(seq, weightedSample(rng, sells, sellWeights, numSells)...)
		seq = append(seq, weightedSample(rng, buys, buyWeights, numBuys)...)

		if !g.isDiverse(seq, sequences) {
			continue
		}
		sequences = append(sequences, seq)
	}
	return sequences
}

// priorityWeights normalizes priorities to [0,1], squares them to
// emphasize the top, and adds a base weight so every candidate can appear.
func priorityWeights(candidates []domain.ActionCandidate) []float64 {
	if len(candidates) == 0 {
		return nil
	}
	minP, maxP := candidates[0].Priority, candidates[0].Priority
	for _, c := range candidates[1:] {
		if c.Priority < minP {
			minP = c.Priority
		}
		if c.Priority > maxP {
			maxP = c.Priority
		}
	}
	weights := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		w := 1.0
		if maxP > minP {
			norm := (c.Priority - minP) / (maxP - minP)
			w = norm * norm
		}
		w += 0.1
		weights[i] = w
		total += w
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// weightedSample draws k candidates with replacement, then deduplicates
// by symbol, so the result may be shorter than k.
func weightedSample(rng *rand.Rand, pool []domain.ActionCandidate, weights []float64, k int) []domain.ActionCandidate {
	var out []domain.ActionCandidate
	seen := make(map[string]bool)
	for i := 0; i < k; i++ {
		r := rng.Float64()
		var cumulative float64
		idx := len(pool) - 1
		for j, w := range weights {
			cumulative += w
			if r <= cumulative {
				idx = j
				break
			}
		}
		candidate := pool[idx]
		if !seen[candidate.Symbol] {
			seen[candidate.Symbol] = true
			out = append(out, candidate)
		}
	}
	return out
}

// isDiverse compares the sequence's country/industry footprint against the
// last ten accepted sequences.
func (g EnhancedCombinatorial) isDiverse(seq domain.Sequence, existing []domain.Sequence) bool {
	if len(g.SecuritiesBySymbol) == 0 || len(existing) == 0 {
		return true
	}
	newCountries, newIndustries := g.footprint(seq)

	start := len(existing) - 10
	if start < 0 {
		start = 0
	}
	for _, prior := range existing[start:] {
		priorCountries, priorIndustries := g.footprint(prior)
		if jaccard(newCountries, priorCountries) > 0.8 && jaccard(newIndustries, priorIndustries) > 0.8 {
			return false
		}
	}
	return true
}

func (g EnhancedCombinatorial) footprint(seq domain.Sequence) (countries, industries map[string]bool) {
	countries = make(map[string]bool)
	industries = make(map[string]bool)
	for _, action := range seq {
		sec, ok := g.SecuritiesBySymbol[action.Symbol]
		if !ok {
			continue
		}
		if sec.Country != "" {
			countries[sec.Country] = true
		}
		for _, industry := range strings.Split(sec.Industry, ",") {
			if trimmed := strings.TrimSpace(industry); trimmed != "" {
				industries[trimmed] = true
			}
		}
	}
	return countries, industries
}

func jaccard(a, b map[string]bool) float64 {
	union := make(map[string]bool, len(a)+len(b))
	intersection := 0
	for k := range a {
		union[k] = true
	}
	for k := range b {
		if a[k] {
			intersection++
		}
		union[k] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}
