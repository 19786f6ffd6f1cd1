package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/prices"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/strategy"
)

// signalHistoryDays is how much close history feeds each contrarian
// signal (a year of rolling-max context plus warmup).
const signalHistoryDays = 300

// ContextBuilder assembles the PortfolioContext every planning and
// rebalance pass consumes: positions, universe, scores, contrarian
// signals, allocation groupings, and cash.
type ContextBuilder struct {
	positions  *portfolio.PositionRepository
	cash       *portfolio.CashRepository
	securities *universe.SecurityRepository
	scores     *universe.ScoreRepository
	prices     *prices.Repository
	allocation *allocation.Repository
	rates      *CurrencyExchangeService
	log        zerolog.Logger
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(positions *portfolio.PositionRepository, cash *portfolio.CashRepository,
	securities *universe.SecurityRepository, scores *universe.ScoreRepository,
	priceRepo *prices.Repository, alloc *allocation.Repository,
	rates *CurrencyExchangeService, log zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{
		positions:  positions,
		cash:       cash,
		securities: securities,
		scores:     scores,
		prices:     priceRepo,
		allocation: alloc,
		rates:      rates,
		log:        log.With().Str("service", "context_builder").Logger(),
	}
}

// Build assembles the current portfolio context.
func (b *ContextBuilder) Build(ctx context.Context) (*opportunities.PortfolioContext, error) {
	positions, err := b.positions.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	securities, err := b.securities.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}
	scores, err := b.scores.GetLatestAll(ctx)
	if err != nil {
		return nil, err
	}

	signals := make(map[string]strategy.Signal, len(securities))
	priceBySymbol := make(map[string]float64)
	for _, sec := range securities {
		closes, err := b.prices.GetCloses(ctx, sec.Symbol, signalHistoryDays, "")
		if err != nil {
			b.log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Price history lookup failed")
			continue
		}
		signals[sec.Symbol] = strategy.ComputeSignal(closes)
		if len(closes) > 0 {
			priceBySymbol[sec.Symbol] = closes[len(closes)-1]
		}
	}

	countryGroups, err := b.allocation.GetGroups(ctx, allocation.TypeGeography)
	if err != nil {
		return nil, err
	}
	industryGroups, err := b.allocation.GetGroups(ctx, allocation.TypeIndustry)
	if err != nil {
		return nil, err
	}
	countryWeights, err := b.allocation.GetTargets(ctx, allocation.TypeGeography)
	if err != nil {
		return nil, err
	}
	industryWeights, err := b.allocation.GetTargets(ctx, allocation.TypeIndustry)
	if err != nil {
		return nil, err
	}

	// Current group allocations from position values.
	var holdingsValue float64
	for _, p := range positions {
		holdingsValue += p.MarketValueEUR
	}
	countryAlloc := make(map[string]float64)
	industryAlloc := make(map[string]float64)
	secBySymbol := make(map[string]int, len(securities))
	for i, sec := range securities {
		secBySymbol[sec.Symbol] = i
	}
	if holdingsValue > 0 {
		for _, p := range positions {
			idx, ok := secBySymbol[p.Symbol]
			if !ok {
				continue
			}
			sec := securities[idx]
			weight := p.MarketValueEUR / holdingsValue
			country := sec.Country
			if group, ok := countryGroups[country]; ok {
				country = group
			}
			countryAlloc[country] += weight
			industries := sec.Industries()
			for _, industry := range industries {
				name := industry
				if group, ok := industryGroups[industry]; ok {
					name = group
				}
				industryAlloc[name] += weight / float64(len(industries))
			}
		}
	}

	cashEUR := 0.0
	balances, err := b.cash.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for currency, amount := range balances {
		eur, err := b.rates.ToEUR(ctx, amount, currency)
		if err != nil {
			b.log.Warn().Err(err).Str("currency", currency).Msg("Rate lookup failed for cash balance")
			continue
		}
		cashEUR += eur
	}

	return &opportunities.PortfolioContext{
		Positions:           positions,
		Securities:          securities,
		SecurityScores:      scores,
		Signals:             signals,
		CountryAllocations:  countryAlloc,
		IndustryAllocations: industryAlloc,
		CountryToGroup:      countryGroups,
		IndustryToGroup:     industryGroups,
		CountryWeights:      countryWeights,
		IndustryWeights:     industryWeights,
		Prices:              priceBySymbol,
		AvailableCashEUR:    cashEUR,
		PortfolioValueEUR:   holdingsValue + cashEUR,
		Rates:               b.rates,
	}, nil
}
