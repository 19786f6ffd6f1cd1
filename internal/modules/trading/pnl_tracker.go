package trading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// PnLStatus is the daily P&L guardrail verdict consulted before trading.
type PnLStatus struct {
	Status  string // "ok", "warning", "halted"
	CanBuy  bool
	CanSell bool
	Reason  string
}

// ValueSource reports today's portfolio value and the day's opening value.
type ValueSource interface {
	TotalValueEUR(ctx context.Context) (float64, error)
	DayOpenValueEUR(ctx context.Context) (float64, error)
}

// PnLTracker derives buy/sell permissions from intraday drawdown against
// configured thresholds. Beyond the warning threshold buys stop; beyond
// the halt threshold all trading stops for the day.
type PnLTracker struct {
	values       ValueSource
	warnLossPct  float64
	haltLossPct  float64
	log          zerolog.Logger
}

// NewPnLTracker creates a tracker. Thresholds are fractions of day-open
// value, e.g. 0.02 and 0.05.
func NewPnLTracker(values ValueSource, warnLossPct, haltLossPct float64, log zerolog.Logger) *PnLTracker {
	return &PnLTracker{
		values:      values,
		warnLossPct: warnLossPct,
		haltLossPct: haltLossPct,
		log:         log.With().Str("service", "pnl_tracker").Logger(),
	}
}

// Check returns the current P&L status. When valuation data is missing the
// tracker fails open with "ok" — guardrails protect against losses, not
// against absent data.
func (t *PnLTracker) Check(ctx context.Context) PnLStatus {
	open, err := t.values.DayOpenValueEUR(ctx)
	if err != nil || open <= 0 {
		return PnLStatus{Status: "ok", CanBuy: true, CanSell: true}
	}
	current, err := t.values.TotalValueEUR(ctx)
	if err != nil || current <= 0 {
		return PnLStatus{Status: "ok", CanBuy: true, CanSell: true}
	}

	loss := (open - current) / open
	switch {
	case loss >= t.haltLossPct:
		return PnLStatus{
			Status: "halted",
			Reason: fmt.Sprintf("daily loss %.1f%% beyond halt threshold %.1f%%", loss*100, t.haltLossPct*100),
		}
	case loss >= t.warnLossPct:
		return PnLStatus{
			Status:  "warning",
			CanBuy:  false,
			CanSell: true,
			Reason:  fmt.Sprintf("daily loss %.1f%% beyond warning threshold %.1f%%", loss*100, t.warnLossPct*100),
		}
	default:
		return PnLStatus{Status: "ok", CanBuy: true, CanSell: true}
	}
}
