package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
)

// RateSource converts native-currency amounts to EUR.
type RateSource interface {
	ToEUR(ctx context.Context, amount float64, currency string) (float64, error)
}

// Service owns the broker round-trip that refreshes positions and cash
// balances, and portfolio-level valuations derived from them.
type Service struct {
	broker    domain.Broker
	positions *PositionRepository
	cash      *CashRepository
	snapshots *SnapshotRepository
	rates     RateSource
	bus       *events.Bus
	log       zerolog.Logger
}

// NewService creates a portfolio service.
func NewService(broker domain.Broker, positions *PositionRepository, cash *CashRepository,
	snapshots *SnapshotRepository, rates RateSource, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		broker:    broker,
		positions: positions,
		cash:      cash,
		snapshots: snapshots,
		rates:     rates,
		bus:       bus,
		log:       log.With().Str("service", "portfolio").Logger(),
	}
}

// Sync refreshes positions and cash balances from the broker. Positions no
// longer reported by the broker are removed.
func (s *Service) Sync(ctx context.Context) error {
	s.bus.Emit(events.SyncStart, &events.GenericData{Type: events.SyncStart})

	balances, err := s.broker.GetCashBalances(ctx)
	if err != nil {
		return &domain.BrokerError{Op: "get_cash_balances", Err: err}
	}
	if err := s.cash.ReplaceAll(ctx, balances); err != nil {
		return err
	}

	positions, err := s.fetchBrokerPositions(ctx)
	if err != nil {
		return err
	}

	keep := make([]string, 0, len(positions))
	for _, p := range positions {
		if err := s.positions.Upsert(ctx, &p); err != nil {
			return err
		}
		keep = append(keep, p.Symbol)
	}
	if err := s.positions.DeleteMissing(ctx, keep); err != nil {
		return err
	}

	s.bus.Emit(events.SyncComplete, &events.GenericData{Type: events.SyncComplete})
	s.log.Info().Int("positions", len(positions)).Int("balances", len(balances)).Msg("Portfolio sync complete")
	return nil
}

// fetchBrokerPositions pulls the broker's current holdings and attaches
// EUR valuations.
func (s *Service) fetchBrokerPositions(ctx context.Context) ([]domain.Position, error) {
	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		return nil, &domain.BrokerError{Op: "get_positions", Err: err}
	}

	for i := range positions {
		p := &positions[i]
		if p.MarketValueEUR > 0 {
			continue
		}
		local := float64(p.Quantity) * p.CurrentPrice
		eur, err := s.rates.ToEUR(ctx, local, p.Currency)
		if err != nil {
			// Missing rate degrades one valuation, not the sync.
			s.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Could not convert position value to EUR")
			continue
		}
		p.MarketValueEUR = eur
	}
	return positions, nil
}

// TotalValueEUR returns holdings value plus EUR-converted cash.
func (s *Service) TotalValueEUR(ctx context.Context) (float64, error) {
	holdings, err := s.positions.TotalValueEUR(ctx)
	if err != nil {
		return 0, err
	}
	balances, err := s.cash.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	total := holdings
	for currency, amount := range balances {
		eur, err := s.rates.ToEUR(ctx, amount, currency)
		if err != nil {
			continue
		}
		total += eur
	}
	return total, nil
}

// TotalCashEUR returns the EUR value of all cash balances.
func (s *Service) TotalCashEUR(ctx context.Context) (float64, error) {
	balances, err := s.cash.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for currency, amount := range balances {
		eur, err := s.rates.ToEUR(ctx, amount, currency)
		if err != nil {
			return 0, err
		}
		total += eur
	}
	return total, nil
}

// SnapshotToday records today's valuation. Used by snapshot:backfill.
func (s *Service) SnapshotToday(ctx context.Context) error {
	positions, err := s.positions.GetAll(ctx)
	if err != nil {
		return err
	}
	bysymbol := make(map[string]float64, len(positions))
	for _, p := range positions {
		bysymbol[p.Symbol] = p.MarketValueEUR
	}
	cash, err := s.TotalCashEUR(ctx)
	if err != nil {
		return err
	}
	total, err := s.TotalValueEUR(ctx)
	if err != nil {
		return err
	}
	snap := &Snapshot{
		Date:          time.Now().Format("2006-01-02"),
		TotalValueEUR: total,
		CashEUR:       cash,
		Positions:     bysymbol,
	}
	if err := s.snapshots.Upsert(ctx, snap); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}
