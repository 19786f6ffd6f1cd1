package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/domain/domaintest"
)

func newFX(broker *domaintest.FakeBroker) *CurrencyExchangeService {
	return NewCurrencyExchangeService(broker, nil, zerolog.Nop())
}

func TestSameCurrencyPathAndRate(t *testing.T) {
	fx := newFX(domaintest.NewFakeBroker())

	path, err := fx.GetConversionPath("EUR", "EUR")
	require.NoError(t, err)
	assert.Empty(t, path)

	rate, err := fx.GetRate(context.Background(), "USD", "usd")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}

func TestDirectPairPath(t *testing.T) {
	fx := newFX(domaintest.NewFakeBroker())

	path, err := fx.GetConversionPath("EUR", "USD")
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, "EURUSD_T0.ITS", path[0].Symbol)
	assert.Equal(t, domain.SideSell, path[0].Action)
}

func TestTwoHopGBPHKDRoutesViaEUR(t *testing.T) {
	fx := newFX(domaintest.NewFakeBroker())

	path, err := fx.GetConversionPath("GBP", "HKD")
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, "EUR", path[0].ToCurrency)
	assert.Equal(t, "EUR", path[1].FromCurrency)
	assert.Equal(t, "HKD", path[1].ToCurrency)
}

func TestUnknownPairReturnsConversionError(t *testing.T) {
	fx := newFX(domaintest.NewFakeBroker())

	_, err := fx.GetConversionPath("EUR", "JPY")
	var convErr *domain.CurrencyConversionError
	assert.ErrorAs(t, err, &convErr)
}

func TestGetRateUsesLiveQuoteAndInversion(t *testing.T) {
	broker := domaintest.NewFakeBroker()
	broker.Quotes["EURUSD_T0.ITS"] = domain.Quote{Symbol: "EURUSD_T0.ITS", Price: 1.08}
	fx := newFX(broker)

	rate, err := fx.GetRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.08, rate, 1e-12)

	inverse, err := fx.GetRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/1.08, inverse, 1e-12)
}

type fixedFallback struct{ rate float64 }

func (f fixedFallback) Rate(context.Context, string, string) (float64, error) {
	return f.rate, nil
}

func TestGetRateFallsBackToHistoricalService(t *testing.T) {
	broker := domaintest.NewFakeBroker() // No quotes available
	fx := NewCurrencyExchangeService(broker, fixedFallback{rate: 1.07}, zerolog.Nop())

	rate, err := fx.GetRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.07, rate, 1e-12)
}

func TestExchangeTwoHopPlacesTwoOrders(t *testing.T) {
	broker := domaintest.NewFakeBroker()
	broker.Quotes["EURGBP_T0.ITS"] = domain.Quote{Price: 0.85} // EUR->GBP rate
	broker.Quotes["HKD/EUR"] = domain.Quote{Price: 0.12}       // HKD->EUR rate
	fx := newFX(broker)

	result, err := fx.Exchange(context.Background(), "GBP", "HKD", 100)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, broker.Orders, 2)

	// Leg 1 converts the full GBP amount; leg 2 converts the EUR proceeds
	// adjusted by the observed GBP->EUR rate (1/0.85).
	assert.Equal(t, "EURGBP_T0.ITS", broker.Orders[0].Symbol)
	assert.Equal(t, domain.SideBuy, broker.Orders[0].Side)
	assert.InDelta(t, 100.0, broker.Orders[0].Quantity, 1e-9)
	assert.Equal(t, "HKD/EUR", broker.Orders[1].Symbol)
	assert.InDelta(t, 100.0/0.85, broker.Orders[1].Quantity, 1e-6)
}

func TestEnsureBalanceScenarioB(t *testing.T) {
	// Balances EUR -200, USD +900; EUR/USD = 1.08 so USD->EUR = 0.926.
	broker := domaintest.NewFakeBroker()
	broker.Balances = []domain.CashBalance{
		{Currency: "EUR", Amount: -200},
		{Currency: "USD", Amount: 900},
	}
	broker.Quotes["EURUSD_T0.ITS"] = domain.Quote{Price: 1.08}
	fx := newFX(broker)

	ok, err := fx.EnsureBalance(context.Background(), "EUR", 210, "USD")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, broker.Orders, 1)

	// The deficit is already priced into min_amount: convert
	// (210 * 1.02) EUR worth at the USD->EUR rate of 1/1.08 (~231 USD).
	expectedUSD := 210.0 * 1.02 / (1.0 / 1.08)
	assert.InDelta(t, expectedUSD, broker.Orders[0].Quantity, 1e-6)
	assert.InDelta(t, 231.3, expectedUSD, 0.2)
}

func TestEnsureBalanceBlocksNegativeSource(t *testing.T) {
	broker := domaintest.NewFakeBroker()
	broker.Balances = []domain.CashBalance{
		{Currency: "EUR", Amount: -50},
		{Currency: "USD", Amount: -10},
	}
	fx := newFX(broker)

	ok, err := fx.EnsureBalance(context.Background(), "EUR", 100, "USD")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, broker.Orders, "no order may worsen a negative source balance")
}

func TestEnsureBalanceSufficientIsNoOp(t *testing.T) {
	broker := domaintest.NewFakeBroker()
	broker.Balances = []domain.CashBalance{
		{Currency: "HKD", Amount: 5000},
		{Currency: "EUR", Amount: 1000},
	}
	fx := newFX(broker)

	ok, err := fx.EnsureBalance(context.Background(), "HKD", 1000, "EUR")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, broker.Orders)
}
