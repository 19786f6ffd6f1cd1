package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/lockfile"
	"github.com/aristath/helmsman/internal/market"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/trading"
	"github.com/aristath/helmsman/internal/modules/universe"
)

// ExecutionTimings are the loop's sleep and polling windows. Tests shrink
// them; production uses Defaults.
type ExecutionTimings struct {
	PlanningPoll       time.Duration // Between planner completion checks
	PlanningMaxPolls   int           // Poll budget before proceeding anyway
	NoRecommendation   time.Duration // Sleep when the planner has nothing
	HaltedSleep        time.Duration // Sleep after a P&L halt
	GateSleep          time.Duration // Sleep when a validation gate fails
	SkippedSleep       time.Duration // Sleep after a broker "skipped"
	FailureSleep       time.Duration // Sleep after a broker failure
	ErrorSleep         time.Duration // Sleep after an unexpected loop error
	MonitorPhase1Tick  time.Duration
	MonitorPhase1Count int
	MonitorPhase2Tick  time.Duration
	MonitorPhase2Count int
	RecentSellWindow   time.Duration
	LockTimeout        time.Duration
}

// DefaultExecutionTimings returns the production windows.
func DefaultExecutionTimings() ExecutionTimings {
	return ExecutionTimings{
		PlanningPoll:       10 * time.Second,
		PlanningMaxPolls:   360, // 1 hour
		NoRecommendation:   time.Minute,
		HaltedSleep:        5 * time.Minute,
		GateSleep:          time.Minute,
		SkippedSleep:       time.Minute,
		FailureSleep:       5 * time.Minute,
		ErrorSleep:         time.Minute,
		MonitorPhase1Tick:  30 * time.Second,
		MonitorPhase1Count: 10,
		MonitorPhase2Tick:  time.Minute,
		MonitorPhase2Count: 15,
		RecentSellWindow:   15 * time.Minute,
		LockTimeout:        time.Hour,
	}
}

// TradeExecutionService is the autonomous loop: wait for planning, gate
// the best next trade, place exactly one order per cycle, resync, and
// monitor until the broker state settles.
type TradeExecutionService struct {
	locks      *lockfile.Manager
	planner    *planning.Service
	portfolio  *portfolio.Service
	positions  *portfolio.PositionRepository
	securities *universe.SecurityRepository
	trades     *trading.TradeRepository
	frequency  *trading.FrequencyService
	pnl        *trading.PnLTracker
	oracle     *market.Oracle
	broker     domain.Broker
	bus        *events.Bus
	timings    ExecutionTimings
	minTrade   float64 // Min cash for a BUY, EUR
	log        zerolog.Logger
}

// ExecutionConfig wires a TradeExecutionService.
type ExecutionConfig struct {
	Locks      *lockfile.Manager
	Planner    *planning.Service
	Portfolio  *portfolio.Service
	Positions  *portfolio.PositionRepository
	Securities *universe.SecurityRepository
	Trades     *trading.TradeRepository
	Frequency  *trading.FrequencyService
	PnL        *trading.PnLTracker
	Oracle     *market.Oracle
	Broker     domain.Broker
	Bus        *events.Bus
	Timings    ExecutionTimings
	MinTradeEUR float64
	Log        zerolog.Logger
}

// NewTradeExecutionService creates the execution loop service.
func NewTradeExecutionService(cfg ExecutionConfig) *TradeExecutionService {
	if cfg.Timings.PlanningPoll == 0 {
		cfg.Timings = DefaultExecutionTimings()
	}
	return &TradeExecutionService{
		locks:      cfg.Locks,
		planner:    cfg.Planner,
		portfolio:  cfg.Portfolio,
		positions:  cfg.Positions,
		securities: cfg.Securities,
		trades:     cfg.Trades,
		frequency:  cfg.Frequency,
		pnl:        cfg.PnL,
		oracle:     cfg.Oracle,
		broker:     cfg.Broker,
		bus:        cfg.Bus,
		timings:    cfg.Timings,
		minTrade:   cfg.MinTradeEUR,
		log:        cfg.Log.With().Str("service", "trade_execution").Logger(),
	}
}

// Run executes the loop under the event_based_trading lock until the
// context is cancelled. Cancellation unwinds through the lock without
// placing a new order.
func (s *TradeExecutionService) Run(ctx context.Context) error {
	return s.locks.WithLock(ctx, lockfile.LockEventTrading, s.timings.LockTimeout,
		func(ctx context.Context) error {
			s.log.Info().Msg("Starting event-based trading loop")
			for {
				if err := s.runCycle(ctx); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					s.log.Error().Err(err).Msg("Trading loop cycle failed")
					s.bus.Emit(events.ErrorOccurred, &events.ErrorData{Message: "TRADING LOOP FAILED"})
					if serr := s.sleep(ctx, s.timings.ErrorSleep); serr != nil {
						return serr
					}
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
		})
}

// RunCycle executes one full cycle. Exposed for tests and for run_now.
func (s *TradeExecutionService) RunCycle(ctx context.Context) error { return s.runCycle(ctx) }

func (s *TradeExecutionService) runCycle(ctx context.Context) error {
	// Step 1: wait for planning completion (bounded).
	if err := s.waitForPlanning(ctx); err != nil {
		return err
	}

	// Step 2: best next trade.
	rec, err := s.planner.BestNextAction(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Info().Msg("No recommendation available, waiting")
		return s.sleep(ctx, s.timings.NoRecommendation)
	}
	if err != nil {
		return err
	}

	// Step 3: P&L guardrails.
	status := s.pnl.Check(ctx)
	if status.Status == "halted" {
		s.log.Warn().Str("reason", status.Reason).Msg("Trading halted")
		s.bus.Emit(events.ErrorOccurred, &events.ErrorData{
			Message: fmt.Sprintf("Trading halted: %s", status.Reason),
		})
		return s.sleep(ctx, s.timings.HaltedSleep)
	}

	// Step 4: compound validation gate.
	if ok, reason := s.validate(ctx, rec, status); !ok {
		s.log.Info().Str("reason", reason).Str("symbol", rec.Symbol).Msg("Trade gated, skipping cycle")
		return s.sleep(ctx, s.timings.GateSleep)
	}

	// Step 5: market hours.
	if ok, reason := s.checkMarketHours(ctx, rec); !ok {
		s.log.Info().Str("reason", reason).Msg("Market closed for trade")
		return s.sleep(ctx, s.timings.FailureSleep)
	}

	// Step 6: place exactly one order, then resync and monitor.
	result, err := s.broker.PlaceOrder(ctx, rec.Symbol, rec.Side, float64(rec.Quantity))
	if err != nil {
		s.log.Error().Err(err).Str("symbol", rec.Symbol).Msg("Order placement failed")
		s.bus.Emit(events.ErrorOccurred, &events.ErrorData{Message: "BROKER DOWN"})
		return s.sleep(ctx, s.timings.FailureSleep)
	}

	switch result.Status {
	case "success":
		s.frequency.RecordExecution(rec.Symbol)
		s.bus.Emit(events.TradeExecuted, &events.TradeExecutedData{
			Symbol: rec.Symbol, Side: string(rec.Side), Quantity: rec.Quantity,
			Price: rec.EstimatedPrice, OrderID: result.OrderID,
		})
		if err := s.portfolio.Sync(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Post-trade portfolio sync failed")
		}
		changed, err := s.monitorForChanges(ctx)
		if err != nil {
			return err
		}
		if changed {
			s.log.Info().Msg("Portfolio hash changed, restarting planning cycle")
			s.bus.Emit(events.RecommendationsInvalidated,
				&events.GenericData{Type: events.RecommendationsInvalidated})
		} else {
			s.log.Info().Msg("Monitoring window elapsed without hash change, restarting")
		}
		return nil
	case "skipped":
		s.log.Info().Str("symbol", rec.Symbol).Msg("Order skipped by broker")
		return s.sleep(ctx, s.timings.SkippedSleep)
	default:
		s.log.Error().Str("status", result.Status).Str("symbol", rec.Symbol).Msg("Order failed")
		return s.sleep(ctx, s.timings.FailureSleep)
	}
}

// waitForPlanning polls evaluation completion, driving batches in between,
// for up to PlanningMaxPolls before proceeding with the best so far.
func (s *TradeExecutionService) waitForPlanning(ctx context.Context) error {
	hash, err := s.planner.CurrentHash(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < s.timings.PlanningMaxPolls; i++ {
		done, err := s.planner.Repo().AreAllSequencesEvaluated(ctx, hash)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := s.planner.ProcessBatch(ctx, 0); err != nil {
			s.log.Warn().Err(err).Msg("Planner batch failed while waiting for completion")
		}
		if err := s.sleep(ctx, s.timings.PlanningPoll); err != nil {
			return err
		}
	}
	s.log.Warn().Msg("Planning completion timeout, proceeding with best result so far")
	return nil
}

// validate is the compound pre-order gate: per-symbol frequency cooldown,
// cash floor for buys, P&L side permissions, recent-sell protection.
func (s *TradeExecutionService) validate(ctx context.Context, rec *domain.Recommendation,
	status trading.PnLStatus) (bool, string) {

	if !s.frequency.CanExecuteTrade(ctx, rec.Symbol, rec.Side) {
		return false, "symbol in trade-frequency cooldown"
	}

	switch rec.Side {
	case domain.SideBuy:
		if !status.CanBuy {
			return false, "buys disabled by P&L guardrail"
		}
		cash, err := s.portfolio.TotalCashEUR(ctx)
		if err != nil {
			return false, "cash balance unavailable"
		}
		if cash < s.minTrade {
			return false, fmt.Sprintf("available cash %.0f below minimum trade size %.0f", cash, s.minTrade)
		}
	case domain.SideSell:
		if !status.CanSell {
			return false, "sells disabled by P&L guardrail"
		}
		recent, err := s.trades.HasRecentSellOrder(ctx, rec.Symbol, s.timings.RecentSellWindow)
		if err != nil {
			return false, "trade history unavailable"
		}
		if recent {
			return false, "recent sell order still propagating"
		}
	}
	return true, ""
}

// checkMarketHours applies the oracle's policy to the recommendation.
// Unknown securities or exchanges fail open.
func (s *TradeExecutionService) checkMarketHours(ctx context.Context, rec *domain.Recommendation) (bool, string) {
	sec, err := s.securities.GetBySymbol(ctx, rec.Symbol)
	if err != nil {
		s.log.Warn().Str("symbol", rec.Symbol).Msg("Security not found for market-hours check, allowing trade")
		return true, ""
	}
	if sec.Exchange == "" {
		s.log.Warn().Str("symbol", rec.Symbol).Msg("Security has no exchange set, allowing trade")
		return true, ""
	}
	s.oracle.EnsureFresh(ctx)
	if s.oracle.ShouldCheckMarketHours(sec.Exchange, rec.Side) && !s.oracle.IsMarketOpen(sec.Exchange) {
		return false, fmt.Sprintf("market closed for %s", sec.Exchange)
	}
	return true, ""
}

// monitorForChanges watches the portfolio hash in two phases (30 s x 10,
// then 60 s x 15). Returns true when the hash changed.
func (s *TradeExecutionService) monitorForChanges(ctx context.Context) (bool, error) {
	initial, err := s.monitoredHash(ctx)
	if err != nil {
		return false, err
	}

	phases := []struct {
		tick  time.Duration
		count int
	}{
		{s.timings.MonitorPhase1Tick, s.timings.MonitorPhase1Count},
		{s.timings.MonitorPhase2Tick, s.timings.MonitorPhase2Count},
	}
	for _, phase := range phases {
		for i := 0; i < phase.count; i++ {
			if err := s.sleep(ctx, phase.tick); err != nil {
				return false, err
			}
			if err := s.portfolio.Sync(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Monitor-phase portfolio sync failed")
				continue
			}
			current, err := s.monitoredHash(ctx)
			if err != nil {
				return false, err
			}
			if current != initial {
				return true, nil
			}
		}
	}
	return false, nil
}

// monitoredHash includes cash balances: a settled FX or order fill must
// register as a state change even when quantities are unchanged.
func (s *TradeExecutionService) monitoredHash(ctx context.Context) (string, error) {
	positions, err := s.positions.GetAll(ctx)
	if err != nil {
		return "", err
	}
	securities, err := s.securities.GetAllActive(ctx)
	if err != nil {
		return "", err
	}
	symbols := make([]string, len(securities))
	for i, sec := range securities {
		symbols[i] = sec.Symbol
	}
	var cash map[string]float64
	if balances, err := s.broker.GetCashBalances(ctx); err == nil {
		cash = make(map[string]float64, len(balances))
		for _, b := range balances {
			cash[b.Currency] = b.Amount
		}
	}
	return planning.PortfolioHash(positions, symbols, cash), nil
}

// sleep is a cancellation point.
func (s *TradeExecutionService) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
