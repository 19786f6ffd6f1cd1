// Package patterns contains pattern generators: modules that compose
// categorized opportunity candidates into short, purposeful trade
// sequences. Every emitted sequence has sells first, then buys.
package patterns

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// Generator is one pattern module. Input is categorized candidates keyed
// by calculator name.
type Generator interface {
	Name() string
	DefaultParams() opportunities.Params
	Generate(byCategory map[string][]domain.ActionCandidate, params opportunities.Params) []domain.Sequence
}

// Registry holds enabled pattern generators with resolved parameters.
type Registry struct {
	order   []string
	modules map[string]Generator
	params  map[string]opportunities.Params
	log     zerolog.Logger
}

// NewRegistry builds the registry from configuration; modules absent from
// config run with defaults, explicitly disabled modules are dropped.
func NewRegistry(available []Generator, config map[string]opportunities.ModuleConfig, log zerolog.Logger) *Registry {
	r := &Registry{
		modules: make(map[string]Generator),
		params:  make(map[string]opportunities.Params),
		log:     log.With().Str("registry", "patterns").Logger(),
	}
	for _, gen := range available {
		cfg, configured := config[gen.Name()]
		if configured && !cfg.Enabled {
			continue
		}
		params := gen.DefaultParams()
		if configured {
			params = params.Merge(cfg.Params)
		}
		r.order = append(r.order, gen.Name())
		r.modules[gen.Name()] = gen
		r.params[gen.Name()] = params
	}
	sort.Strings(r.order)
	return r
}

// GenerateAll runs every enabled pattern with shared runtime params
// (available cash) overlaid, and normalizes ordering within sequences.
func (r *Registry) GenerateAll(byCategory map[string][]domain.ActionCandidate, runtime map[string]any) []domain.Sequence {
	var out []domain.Sequence
	for _, name := range r.order {
		params := r.params[name].Merge(runtime)
		for _, seq := range r.modules[name].Generate(byCategory, params) {
			if len(seq) > 0 {
				out = append(out, SellsFirst(seq))
			}
		}
	}
	return out
}

// SellsFirst enforces the rigid sells-before-buys ordering, keeping the
// relative order within each side.
func SellsFirst(seq domain.Sequence) domain.Sequence {
	out := make(domain.Sequence, 0, len(seq))
	for _, a := range seq {
		if a.Side == domain.SideSell {
			out = append(out, a)
		}
	}
	for _, a := range seq {
		if a.Side == domain.SideBuy {
			out = append(out, a)
		}
	}
	return out
}

// allBuys concatenates the buy-producing categories.
func allBuys(byCategory map[string][]domain.ActionCandidate) []domain.ActionCandidate {
	var out []domain.ActionCandidate
	for _, category := range []string{"averaging_down", "rebalance_buys", "opportunity_buys"} {
		out = append(out, byCategory[category]...)
	}
	return out
}

// allCandidates concatenates every category in a fixed order.
func allCandidates(byCategory map[string][]domain.ActionCandidate) []domain.ActionCandidate {
	var out []domain.ActionCandidate
	for _, category := range []string{"profit_taking", "rebalance_sells", "averaging_down", "rebalance_buys", "opportunity_buys"} {
		out = append(out, byCategory[category]...)
	}
	return out
}

func byPriorityDesc(candidates []domain.ActionCandidate) []domain.ActionCandidate {
	out := make([]domain.ActionCandidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}
