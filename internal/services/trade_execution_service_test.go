package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/domain/domaintest"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/market"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/trading"
	"github.com/aristath/helmsman/internal/modules/universe"
)

type oneToOneRates struct{}

func (oneToOneRates) ToEUR(_ context.Context, amount float64, _ string) (float64, error) {
	return amount, nil
}

type executionFixture struct {
	svc        *TradeExecutionService
	broker     *domaintest.FakeBroker
	securities *universe.SecurityRepository
	trades     *trading.TradeRepository
	cash       *portfolio.CashRepository
}

func newExecutionFixture(t *testing.T) *executionFixture {
	t.Helper()
	db, err := database.New(database.Config{
		Path: "file:execution_" + t.Name() + "?mode=memory&cache=shared",
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	conn := db.Conn()
	broker := domaintest.NewFakeBroker()
	positions := portfolio.NewPositionRepository(conn, log)
	cash := portfolio.NewCashRepository(conn, log)
	snapshots := portfolio.NewSnapshotRepository(conn, log)
	securities := universe.NewSecurityRepository(conn, log)
	trades := trading.NewTradeRepository(conn, log)
	bus := events.NewBus(log)
	portfolioService := portfolio.NewService(broker, positions, cash, snapshots, oneToOneRates{}, bus, log)
	oracle := market.NewOracle(broker, log)

	timings := DefaultExecutionTimings()
	timings.RecentSellWindow = 15 * time.Minute

	svc := NewTradeExecutionService(ExecutionConfig{
		Planner:     nil, // Gate tests never reach the planner
		Portfolio:   portfolioService,
		Positions:   positions,
		Securities:  securities,
		Trades:      trades,
		Frequency:   trading.NewFrequencyService(15*time.Minute, log),
		Oracle:      oracle,
		Broker:      broker,
		Bus:         bus,
		Timings:     timings,
		MinTradeEUR: 500,
		Log:         log,
	})
	return &executionFixture{svc: svc, broker: broker, securities: securities, trades: trades, cash: cash}
}

func openStatus() trading.PnLStatus {
	return trading.PnLStatus{Status: "ok", CanBuy: true, CanSell: true}
}

func TestValidateBlocksSellAfterRecentSellOrder(t *testing.T) {
	f := newExecutionFixture(t)
	ctx := context.Background()

	// Scenario E: a SELL for the symbol executed minutes ago.
	require.NoError(t, f.trades.Record(ctx, nil, &domain.Trade{
		Symbol: "AAPL.US", Side: domain.SideSell, Quantity: 2, Price: 120,
		ExecutedAt: time.Now().Format(time.RFC3339),
	}))

	ok, reason := f.svc.validate(ctx, &domain.Recommendation{
		Symbol: "AAPL.US", Side: domain.SideSell, Quantity: 2,
	}, openStatus())

	assert.False(t, ok)
	assert.Contains(t, reason, "recent sell")
	assert.Empty(t, f.broker.Orders, "no order is placed")
}

func TestValidateBlocksBuyBelowMinimumCash(t *testing.T) {
	f := newExecutionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cash.ReplaceAll(ctx, []domain.CashBalance{{Currency: "EUR", Amount: 100}}))

	ok, reason := f.svc.validate(ctx, &domain.Recommendation{
		Symbol: "AAPL.US", Side: domain.SideBuy, Quantity: 5,
	}, openStatus())

	assert.False(t, ok)
	assert.Contains(t, reason, "below minimum trade size")
}

func TestValidateHonorsPnLSidePermissions(t *testing.T) {
	f := newExecutionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cash.ReplaceAll(ctx, []domain.CashBalance{{Currency: "EUR", Amount: 2000}}))

	status := trading.PnLStatus{Status: "warning", CanBuy: false, CanSell: true}
	ok, reason := f.svc.validate(ctx, &domain.Recommendation{
		Symbol: "AAPL.US", Side: domain.SideBuy, Quantity: 5,
	}, status)
	assert.False(t, ok)
	assert.Contains(t, reason, "P&L guardrail")

	ok, _ = f.svc.validate(ctx, &domain.Recommendation{
		Symbol: "AAPL.US", Side: domain.SideSell, Quantity: 5,
	}, status)
	assert.True(t, ok, "sells stay allowed in warning state")
}

func TestValidateFrequencyCooldown(t *testing.T) {
	f := newExecutionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cash.ReplaceAll(ctx, []domain.CashBalance{{Currency: "EUR", Amount: 2000}}))

	f.svc.frequency.RecordExecution("AAPL.US")
	ok, reason := f.svc.validate(ctx, &domain.Recommendation{
		Symbol: "AAPL.US", Side: domain.SideBuy, Quantity: 5,
	}, openStatus())
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")
}

func TestCheckMarketHoursScenarios(t *testing.T) {
	f := newExecutionFixture(t)
	ctx := context.Background()

	f.broker.Markets = []domain.MarketStatus{
		{ID: "1", Name: "NYSE", Status: "CLOSED"},
		{ID: "2", Name: "HKSE", Status: "CLOSED"},
	}
	require.NoError(t, f.svc.oracle.Refresh(ctx))

	require.NoError(t, f.securities.Create(ctx, &domain.Security{
		Symbol: "AAPL.US", Name: "Apple", Currency: "USD", Exchange: "NYSE",
		MinLot: 1, AllowBuy: true, AllowSell: true, Active: true,
	}))
	require.NoError(t, f.securities.Create(ctx, &domain.Security{
		Symbol: "0700.HK", Name: "Tencent", Currency: "HKD", Exchange: "HKSE",
		MinLot: 100, AllowBuy: true, AllowSell: true, Active: true,
	}))

	// BUY on a closed flexible exchange passes (queues at the broker).
	ok, _ := f.svc.checkMarketHours(ctx, &domain.Recommendation{Symbol: "AAPL.US", Side: domain.SideBuy})
	assert.True(t, ok)

	// SELL on a closed exchange is blocked.
	ok, reason := f.svc.checkMarketHours(ctx, &domain.Recommendation{Symbol: "AAPL.US", Side: domain.SideSell})
	assert.False(t, ok)
	assert.Contains(t, reason, "market closed")

	// BUY on a closed strict exchange is blocked.
	ok, _ = f.svc.checkMarketHours(ctx, &domain.Recommendation{Symbol: "0700.HK", Side: domain.SideBuy})
	assert.False(t, ok)

	// Unknown security fails open.
	ok, _ = f.svc.checkMarketHours(ctx, &domain.Recommendation{Symbol: "GHOST", Side: domain.SideSell})
	assert.True(t, ok)
}
