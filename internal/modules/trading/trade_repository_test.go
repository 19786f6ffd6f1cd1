package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
)

func newRepo(t *testing.T) *TradeRepository {
	t.Helper()
	db, err := database.New(database.Config{
		Path: "file:trading_" + t.Name() + "?mode=memory&cache=shared",
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return NewTradeRepository(db.Conn(), zerolog.Nop())
}

func TestUpsertTradeIsIdempotentByBrokerID(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	trade := &domain.Trade{
		BrokerTradeID: "T-1001", Symbol: "AAPL.US", Side: domain.SideBuy,
		Quantity: 5, Price: 120.5, ExecutedAt: "2026-07-01T10:00:00",
	}

	inserted, err := repo.UpsertTrade(ctx, trade)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.UpsertTrade(ctx, trade)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate broker id is silently skipped")

	trades, err := repo.GetTrades(ctx, TradeFilters{Symbol: "AAPL.US"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestUpsertTradeValidation(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertTrade(ctx, &domain.Trade{Symbol: "AAPL.US", Price: 10})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = repo.UpsertTrade(ctx, &domain.Trade{BrokerTradeID: "1", Symbol: "AAPL.US", Price: 0})
	assert.ErrorAs(t, err, &verr)
}

func TestHasRecentSellOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, nil, &domain.Trade{
		Symbol: "AAPL.US", Side: domain.SideSell, Quantity: 3, Price: 118.0,
		ExecutedAt: time.Now().Format(time.RFC3339),
	}))

	recent, err := repo.HasRecentSellOrder(ctx, "AAPL.US", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = repo.HasRecentSellOrder(ctx, "MSFT.US", 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, recent, "other symbols are unaffected")
}

func TestUpsertCashFlowDeduplicatesByContentHash(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	flow := &domain.CashFlow{
		Date: "2026-06-01", TypeID: "dividend", Amount: 12.5, Currency: "USD", Comment: "AAPL div",
	}

	inserted, err := repo.UpsertCashFlow(ctx, flow)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.UpsertCashFlow(ctx, flow)
	require.NoError(t, err)
	assert.False(t, inserted)

	// A different amount is a different entry.
	flow.Amount = 13.0
	inserted, err = repo.UpsertCashFlow(ctx, flow)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestSyncTwiceYieldsOnlySkips(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	trades := []domain.Trade{
		{BrokerTradeID: "1", Symbol: "AAA", Side: domain.SideBuy, Quantity: 1, Price: 10, ExecutedAt: "2026-01-01"},
		{BrokerTradeID: "2", Symbol: "BBB", Side: domain.SideSell, Quantity: 2, Price: 20, ExecutedAt: "2026-01-02"},
	}

	newCount, skipped := 0, 0
	for i := range trades {
		inserted, err := repo.UpsertTrade(ctx, &trades[i])
		require.NoError(t, err)
		if inserted {
			newCount++
		} else {
			skipped++
		}
	}
	assert.Equal(t, 2, newCount)
	assert.Zero(t, skipped)

	newCount, skipped = 0, 0
	for i := range trades {
		inserted, err := repo.UpsertTrade(ctx, &trades[i])
		require.NoError(t, err)
		if inserted {
			newCount++
		} else {
			skipped++
		}
	}
	assert.Zero(t, newCount)
	assert.Equal(t, 2, skipped)
}
