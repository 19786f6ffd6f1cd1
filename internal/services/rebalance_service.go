package services

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/lockfile"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
	"github.com/aristath/helmsman/internal/strategy"
)

// RebalanceService orchestrates one rebalance pass: build context,
// derive signals and targets, run the engine under the rebalance lock.
type RebalanceService struct {
	contexts *ContextBuilder
	cash     *portfolio.CashRepository
	states   *rebalancing.StateRepository
	engine   *rebalancing.Engine
	locks    *lockfile.Manager
	bus      *events.Bus
	targets  strategy.TargetParams
	log      zerolog.Logger
}

// NewRebalanceService creates the orchestrator.
func NewRebalanceService(contexts *ContextBuilder, cash *portfolio.CashRepository,
	states *rebalancing.StateRepository, engine *rebalancing.Engine,
	locks *lockfile.Manager, bus *events.Bus,
	targets strategy.TargetParams, log zerolog.Logger) *RebalanceService {
	return &RebalanceService{
		contexts: contexts,
		cash:     cash,
		states:   states,
		engine:   engine,
		locks:    locks,
		bus:      bus,
		targets:  targets,
		log:      log.With().Str("service", "rebalance").Logger(),
	}
}

// Summary is the rebalance verdict for observers.
type Summary struct {
	NeedsRebalance  bool
	TotalDeviation  float64
	Recommendations []domain.TradeRecommendation
}

// BuildPlan runs the full pass under the rebalance lock.
func (s *RebalanceService) BuildPlan(ctx context.Context) ([]domain.TradeRecommendation, error) {
	var recs []domain.TradeRecommendation
	err := s.locks.WithLock(ctx, lockfile.LockRebalance, 10*time.Minute, func(ctx context.Context) error {
		s.bus.Emit(events.RebalanceStart, &events.GenericData{Type: events.RebalanceStart})

		pctx, err := s.contexts.Build(ctx)
		if err != nil {
			return err
		}

		multipliers := make(map[string]float64, len(pctx.Securities))
		for _, sec := range pctx.Securities {
			multipliers[sec.Symbol] = sec.PriorityMultiplier
		}
		allocations, sleeves := strategy.ComputeSymbolTargets(pctx.Signals, multipliers, s.targets)

		states, err := s.states.GetAll(ctx)
		if err != nil {
			return err
		}
		balances, err := s.cash.GetAll(ctx)
		if err != nil {
			return err
		}
		recs, err = s.engine.BuildRecommendations(ctx, rebalancing.Input{
			Context:      pctx,
			Allocations:  allocations,
			Sleeves:      sleeves,
			States:       states,
			CashBalances: balances,
			CashEUR:      pctx.AvailableCashEUR,
			TotalValue:   pctx.PortfolioValueEUR,
		})
		if err != nil {
			return err
		}

		s.bus.Emit(events.RebalanceComplete, &events.GenericData{Type: events.RebalanceComplete})
		return nil
	})
	return recs, err
}

// GetSummary reports whether the portfolio needs rebalancing and the
// total allocation deviation.
func (s *RebalanceService) GetSummary(ctx context.Context) (*Summary, error) {
	recs, err := s.BuildPlan(ctx)
	if err != nil {
		return nil, err
	}
	var deviation float64
	for _, r := range recs {
		deviation += math.Abs(r.AllocationDelta)
	}
	return &Summary{
		NeedsRebalance:  len(recs) > 0,
		TotalDeviation:  deviation,
		Recommendations: recs,
	}, nil
}
