// Package generators contains sequence generators: modules that emit
// candidate trade sequences at scale from a flat candidate pool. All
// output obeys the sells-first ordering.
package generators

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// Generator is one sequence-generation module.
type Generator interface {
	Name() string
	DefaultParams() opportunities.Params
	Generate(candidates []domain.ActionCandidate, params opportunities.Params) []domain.Sequence
}

// Registry holds enabled generators with resolved parameters.
type Registry struct {
	order   []string
	modules map[string]Generator
	params  map[string]opportunities.Params
	log     zerolog.Logger
}

// NewRegistry builds the registry from configuration.
func NewRegistry(available []Generator, config map[string]opportunities.ModuleConfig, log zerolog.Logger) *Registry {
	r := &Registry{
		modules: make(map[string]Generator),
		params:  make(map[string]opportunities.Params),
		log:     log.With().Str("registry", "sequence_generators").Logger(),
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

// GenerateAll runs every enabled generator over the candidate pool.
func (r *Registry) GenerateAll(candidates []domain.ActionCandidate, runtime map[string]any) []domain.Sequence {
	var out []domain.Sequence
	for _, name := range r.order {
		params := r.params[name].Merge(runtime)
		out = append(out, r.modules[name].Generate(candidates, params)...)
	}
	return out
}

func splitSides(candidates []domain.ActionCandidate) (sells, buys []domain.ActionCandidate) {
	for _, c := range candidates {
		if c.Side == domain.SideSell {
			sells = append(sells, c)
		} else {
			buys = append(buys, c)
		}
	}
	return sells, buys
}

func filterByPriority(candidates []domain.ActionCandidate, threshold float64) []domain.ActionCandidate {
	out := make([]domain.ActionCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Priority >= threshold {
			out = append(out, c)
		}
	}
	return out
}
