package market

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/domain/domaintest"
)

func newOracle(t *testing.T, statuses map[string]string) *Oracle {
	t.Helper()
	broker := domaintest.NewFakeBroker()
	for name, status := range statuses {
		broker.Markets = append(broker.Markets, domain.MarketStatus{ID: name, Name: name, Status: status})
	}
	o := NewOracle(broker, zerolog.Nop())
	require.NoError(t, o.Refresh(context.Background()))
	return o
}

func TestIsMarketOpen(t *testing.T) {
	o := newOracle(t, map[string]string{"NYSE": "OPEN", "HKSE": "CLOSED"})

	assert.True(t, o.IsMarketOpen("NYSE"))
	assert.True(t, o.IsMarketOpen("XNYS"), "alias and code resolve identically")
	assert.False(t, o.IsMarketOpen("XHKG"))
	assert.True(t, o.IsMarketOpen("XXXX"), "unknown exchange fails open")
}

func TestAnyAndAllClosed(t *testing.T) {
	o := newOracle(t, map[string]string{"NYSE": "CLOSED", "HKSE": "CLOSED"})
	assert.False(t, o.IsAnyMarketOpen())
	assert.True(t, o.AreAllMarketsClosed())

	o = newOracle(t, map[string]string{"NYSE": "OPEN", "HKSE": "CLOSED"})
	assert.True(t, o.IsAnyMarketOpen())
	assert.False(t, o.AreAllMarketsClosed())
}

func TestShouldCheckMarketHoursPolicy(t *testing.T) {
	o := newOracle(t, nil)

	// Sells always need open hours.
	assert.True(t, o.ShouldCheckMarketHours("NASDAQ", domain.SideSell))
	assert.True(t, o.ShouldCheckMarketHours("XHKG", domain.SideSell))
	assert.True(t, o.ShouldCheckMarketHours("", domain.SideSell))

	// Buys on flexible exchanges do not.
	assert.False(t, o.ShouldCheckMarketHours("NASDAQ", domain.SideBuy))
	assert.False(t, o.ShouldCheckMarketHours("NYSE", domain.SideBuy))
	assert.False(t, o.ShouldCheckMarketHours("XETR", domain.SideBuy))
	assert.False(t, o.ShouldCheckMarketHours("LSE", domain.SideBuy))

	// Buys on strict exchanges do.
	assert.True(t, o.ShouldCheckMarketHours("XHKG", domain.SideBuy))
	assert.True(t, o.ShouldCheckMarketHours("Tokyo", domain.SideBuy))
	assert.True(t, o.ShouldCheckMarketHours("XASX", domain.SideBuy))

	// Unknown exchange fails open for buys.
	assert.False(t, o.ShouldCheckMarketHours("XXXX", domain.SideBuy))
}
