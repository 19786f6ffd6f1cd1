package strategy

import (
	"math"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
)

// TargetParams configures ComputeSymbolTargets.
type TargetParams struct {
	CoreTarget           float64
	OpportunityTarget    float64
	MinOppScore          float64
	MaxOpportunityTarget float64 // 0 means no inflation beyond OpportunityTarget
}

// ComputeSymbolTargets builds target allocations and a sleeve map from
// signals and user conviction multipliers.
//
// Core candidate weight is max(0.001, core_rank+1) * multiplier; an
// opportunity candidate requires opp_score >= MinOppScore and weighs
// (opp_score / vol20) * multiplier. When the opportunity sleeve may grow
// beyond its base target, the extra share scales with candidate breadth
// and average strength. With no opportunity candidates the portfolio is
// allocated entirely from core weights so it stays fully invested.
// Allocations normalize to exactly 1.0 with zeros dropped.
func ComputeSymbolTargets(signals map[string]Signal, multipliers map[string]float64,
	params TargetParams) (map[string]float64, map[string]domain.Sleeve) {

	coreCandidates := make(map[string]float64)
	oppCandidates := make(map[string]float64)

	for symbol, sig := range signals {
		multiplier := 1.0
		if m, ok := multipliers[symbol]; ok {
			multiplier = math.Max(0.0, m)
		}
		if multiplier <= 0 {
			continue
		}
		coreCandidates[symbol] = math.Max(0.001, sig.CoreRank+1.0) * multiplier
		if sig.OppScore >= params.MinOppScore {
			vol := math.Max(sig.Vol20, 1e-6)
			oppCandidates[symbol] = (sig.OppScore / vol) * multiplier
		}
	}

	if len(coreCandidates) == 0 && len(oppCandidates) == 0 {
		return map[string]float64{}, map[string]domain.Sleeve{}
	}

	maxOppTarget := params.MaxOpportunityTarget
	if maxOppTarget == 0 {
		maxOppTarget = params.OpportunityTarget
	}
	maxOppTarget = clip(maxOppTarget, params.OpportunityTarget, 1.0)

	effectiveOppTarget := params.OpportunityTarget
	if len(oppCandidates) > 0 && maxOppTarget > params.OpportunityTarget {
		breadth := clip(float64(len(oppCandidates))/8.0, 0.0, 1.0)
		var sumOpp float64
		for _, symbol := range SortedSymbols(oppCandidates) {
			sumOpp += signals[symbol].OppScore
		}
		avgOpp := sumOpp / float64(len(oppCandidates))
		strength := clip((avgOpp-params.MinOppScore)/math.Max(1e-9, 1.0-params.MinOppScore), 0.0, 1.0)
		boost := 0.5*breadth + 0.5*strength
		effectiveOppTarget = params.OpportunityTarget + (maxOppTarget-params.OpportunityTarget)*boost
	}
	effectiveCoreTarget := math.Max(0.0, 1.0-effectiveOppTarget)

	allocations := make(map[string]float64)
	sleeves := make(map[string]domain.Sleeve)

	// All summations run in sorted key order: map iteration order is
	// randomized per range, and float addition is not associative, so an
	// unordered sum breaks bitwise-identical output for identical input.
	coreSymbols := SortedSymbols(coreCandidates)
	oppSymbols := SortedSymbols(oppCandidates)

	var coreSum float64
	for _, symbol := range coreSymbols {
		coreSum += coreCandidates[symbol]
	}
	if coreSum > 0 {
		for _, symbol := range coreSymbols {
			allocations[symbol] += (coreCandidates[symbol] / coreSum) * effectiveCoreTarget
			if _, ok := sleeves[symbol]; !ok {
				sleeves[symbol] = domain.SleeveCore
			}
		}
	}

	var oppSum float64
	for _, symbol := range oppSymbols {
		oppSum += oppCandidates[symbol]
	}
	if oppSum > 0 {
		for _, symbol := range oppSymbols {
			allocations[symbol] += (oppCandidates[symbol] / oppSum) * effectiveOppTarget
			sleeves[symbol] = domain.SleeveOpportunity
		}
	} else if coreSum > 0 {
		// Keep the portfolio fully invested when no tactical candidates
		// exist: core weights claim the whole allocation.
		allocations = make(map[string]float64, len(coreCandidates))
		for _, symbol := range coreSymbols {
			allocations[symbol] = coreCandidates[symbol] / coreSum
		}
	}

	allocSymbols := SortedSymbols(allocations)
	var total float64
	for _, symbol := range allocSymbols {
		total += allocations[symbol]
	}
	if total <= 0 {
		return map[string]float64{}, map[string]domain.Sleeve{}
	}
	normalized := make(map[string]float64, len(allocations))
	for _, symbol := range allocSymbols {
		if v := allocations[symbol]; v > 0 {
			normalized[symbol] = v / total
		}
	}
	return normalized, sleeves
}

// SortedSymbols returns map keys in deterministic order. The target
// builder sums through it so identical inputs produce bitwise-identical
// allocations; callers use it for stable iteration as well.
func SortedSymbols(allocations map[string]float64) []string {
	out := make([]string, 0, len(allocations))
	for s := range allocations {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
