package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fixedValues struct {
	open    float64
	current float64
}

func (f fixedValues) TotalValueEUR(context.Context) (float64, error)   { return f.current, nil }
func (f fixedValues) DayOpenValueEUR(context.Context) (float64, error) { return f.open, nil }

func TestPnLTrackerStates(t *testing.T) {
	log := zerolog.Nop()

	// Flat day: ok, both sides allowed.
	tracker := NewPnLTracker(fixedValues{open: 10000, current: 10000}, 0.02, 0.05, log)
	status := tracker.Check(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.True(t, status.CanBuy)
	assert.True(t, status.CanSell)

	// 3% down: warning, sells only.
	tracker = NewPnLTracker(fixedValues{open: 10000, current: 9700}, 0.02, 0.05, log)
	status = tracker.Check(context.Background())
	assert.Equal(t, "warning", status.Status)
	assert.False(t, status.CanBuy)
	assert.True(t, status.CanSell)

	// 6% down: halted, nothing trades.
	tracker = NewPnLTracker(fixedValues{open: 10000, current: 9400}, 0.02, 0.05, log)
	status = tracker.Check(context.Background())
	assert.Equal(t, "halted", status.Status)
	assert.False(t, status.CanBuy)
	assert.False(t, status.CanSell)
	assert.NotEmpty(t, status.Reason)
}

func TestPnLTrackerFailsOpenWithoutData(t *testing.T) {
	tracker := NewPnLTracker(fixedValues{open: 0, current: 0}, 0.02, 0.05, zerolog.Nop())
	status := tracker.Check(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.True(t, status.CanBuy)
}

func TestFrequencyServiceCooldown(t *testing.T) {
	svc := NewFrequencyService(15*time.Second, zerolog.Nop())
	ctx := context.Background()

	assert.True(t, svc.CanExecuteTrade(ctx, "AAPL.US", "BUY"))
	svc.RecordExecution("AAPL.US")
	assert.False(t, svc.CanExecuteTrade(ctx, "AAPL.US", "SELL"), "cooldown applies per symbol")
	assert.True(t, svc.CanExecuteTrade(ctx, "MSFT.US", "BUY"))
}
