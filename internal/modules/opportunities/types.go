// Package opportunities hosts the opportunity calculators: stateless,
// config-driven modules that propose ActionCandidates from a portfolio
// context. Calculators are registered explicitly from configuration, never
// by import side effects.
package opportunities

import (
	"context"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/strategy"
)

// Params is a calculator's parameter table: defaults merged under
// per-module config overrides.
type Params map[string]any

// Float reads a float parameter with a default.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Int reads an int parameter with a default.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Bool reads a bool parameter with a default.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Merge overlays overrides onto a copy of p.
func (p Params) Merge(overrides map[string]any) Params {
	out := make(Params, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// RateSource converts native amounts to EUR and quotes pair rates.
type RateSource interface {
	ToEUR(ctx context.Context, amount float64, currency string) (float64, error)
	GetRate(ctx context.Context, from, to string) (float64, error)
}

// PortfolioContext is everything a calculator may look at. Built once per
// planning pass and passed by value semantics: calculators never mutate it.
type PortfolioContext struct {
	Positions      []domain.Position
	Securities     []domain.Security
	SecurityScores map[string]float64          // symbol -> total score
	Signals        map[string]strategy.Signal  // symbol -> contrarian block

	CountryAllocations  map[string]float64 // group -> current fraction
	IndustryAllocations map[string]float64
	CountryToGroup      map[string]string // country -> group
	IndustryToGroup     map[string]string // industry -> group
	CountryWeights      map[string]float64 // group -> target fraction
	IndustryWeights     map[string]float64

	// Prices carries current quotes for universe symbols not held.
	Prices map[string]float64

	AvailableCashEUR  float64
	PortfolioValueEUR float64

	Rates RateSource
}

// PositionFor returns the held position for a symbol, or nil.
func (c *PortfolioContext) PositionFor(symbol string) *domain.Position {
	for i := range c.Positions {
		if c.Positions[i].Symbol == symbol {
			return &c.Positions[i]
		}
	}
	return nil
}

// SecurityFor returns the security for a symbol, or nil.
func (c *PortfolioContext) SecurityFor(symbol string) *domain.Security {
	for i := range c.Securities {
		if c.Securities[i].Symbol == symbol {
			return &c.Securities[i]
		}
	}
	return nil
}

// Score returns the symbol's quality score, defaulting to 0.5.
func (c *PortfolioContext) Score(symbol string) float64 {
	if score, ok := c.SecurityScores[symbol]; ok {
		return score
	}
	return 0.5
}

// PriceFor returns the best known price for a symbol: the held position's
// current price, else the quote table. 0 when unknown.
func (c *PortfolioContext) PriceFor(symbol string) float64 {
	if pos := c.PositionFor(symbol); pos != nil && pos.CurrentPrice > 0 {
		return pos.CurrentPrice
	}
	return c.Prices[symbol]
}

// Calculator is one opportunity module.
type Calculator interface {
	Name() string
	DefaultParams() Params
	Calculate(ctx context.Context, pctx *PortfolioContext, params Params) ([]domain.ActionCandidate, error)
}
