// Package filters contains sequence filters: modules that drop candidate
// sequences violating portfolio-level constraints before evaluation.
package filters

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// Filter is one sequence-filter module.
type Filter interface {
	Name() string
	DefaultParams() opportunities.Params
	Filter(sequences []domain.Sequence, params opportunities.Params) []domain.Sequence
}

// Registry holds enabled filters with resolved parameters.
type Registry struct {
	order   []string
	modules map[string]Filter
	params  map[string]opportunities.Params
	log     zerolog.Logger
}

// NewRegistry builds the registry from configuration.
func NewRegistry(available []Filter, config map[string]opportunities.ModuleConfig, log zerolog.Logger) *Registry {
	r := &Registry{
		modules: make(map[string]Filter),
		params:  make(map[string]opportunities.Params),
		log:     log.With().Str("registry", "sequence_filters").Logger(),
	}
	for _, f := range available {
		cfg, configured := config[f.Name()]
		if configured && !cfg.Enabled {
			continue
		}
		params := f.DefaultParams()
		if configured {
			params = params.Merge(cfg.Params)
		}
		r.order = append(r.order, f.Name())
		r.modules[f.Name()] = f
		r.params[f.Name()] = params
	}
	sort.Strings(r.order)
	return r
}

// FilterAll applies every enabled filter in order.
func (r *Registry) FilterAll(sequences []domain.Sequence, runtime map[string]any) []domain.Sequence {
	out := sequences
	for _, name := range r.order {
		params := r.params[name].Merge(runtime)
		before := len(out)
		out = r.modules[name].Filter(out, params)
		if len(out) < before {
			r.log.Debug().Str("filter", name).Int("before", before).Int("after", len(out)).
				Msg("Sequences filtered")
		}
	}
	return out
}
