package opportunities

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// ModuleConfig is the declarative enable/params entry for one module.
type ModuleConfig struct {
	Enabled bool           `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
}

// Registry is an ordered map of enabled calculators with their resolved
// parameters. Built once at startup from configuration.
type Registry struct {
	order   []string
	modules map[string]Calculator
	params  map[string]Params
	log     zerolog.Logger
}

// NewRegistry instantiates only the enabled calculators from the module
// config, merging config params over each module's defaults. A calculator
// absent from the config is enabled with defaults.
func NewRegistry(available []Calculator, config map[string]ModuleConfig, log zerolog.Logger) *Registry {
	r := &Registry{
		modules: make(map[string]Calculator),
		params:  make(map[string]Params),
		log:     log.With().Str("registry", "opportunities").Logger(),
	}
	for _, calc := range available {
		cfg, configured := config[calc.Name()]
		if configured && !cfg.Enabled {
			continue
		}
		params := calc.DefaultParams()
		if configured {
			params = params.Merge(cfg.Params)
		}
		r.order = append(r.order, calc.Name())
		r.modules[calc.Name()] = calc
		r.params[calc.Name()] = params
	}
	sort.Strings(r.order)
	return r
}

// Names returns enabled calculator names in deterministic order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// CalculateAll runs every enabled calculator and concatenates the results
// in registry order. A calculator failure is logged and skipped; candidate
// generation never aborts the pass.
func (r *Registry) CalculateAll(ctx context.Context, pctx *PortfolioContext) []domain.ActionCandidate {
	var out []domain.ActionCandidate
	for _, name := range r.order {
		candidates, err := r.modules[name].Calculate(ctx, pctx, r.params[name])
		if err != nil {
			r.log.Warn().Err(err).Str("calculator", name).Msg("Opportunity calculator failed")
			continue
		}
		out = append(out, candidates...)
	}
	return out
}

// CalculateByName runs calculators and returns results keyed by module
// name, for pattern generators that want categorized inputs.
func (r *Registry) CalculateByName(ctx context.Context, pctx *PortfolioContext) map[string][]domain.ActionCandidate {
	out := make(map[string][]domain.ActionCandidate, len(r.order))
	for _, name := range r.order {
		candidates, err := r.modules[name].Calculate(ctx, pctx, r.params[name])
		if err != nil {
			r.log.Warn().Err(err).Str("calculator", name).Msg("Opportunity calculator failed")
			continue
		}
		out[name] = candidates
	}
	return out
}
