// Package market provides the market-hours oracle: a refreshable snapshot
// of per-exchange open/closed state from the broker, plus the policy that
// decides whether a trade needs an open market at all.
package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// maxSnapshotAge is how stale the market snapshot may get before
// EnsureFresh refetches it.
const maxSnapshotAge = 5 * time.Minute

// Oracle answers market-hours questions over a snapshot of the broker's
// market-status feed. It is pure over that snapshot; Refresh replaces it.
type Oracle struct {
	broker domain.Broker
	log    zerolog.Logger

	mu        sync.RWMutex
	statuses  map[string]string // normalized exchange name -> status
	fetchedAt time.Time
}

// NewOracle creates a market-hours oracle. Call Refresh before first use.
func NewOracle(broker domain.Broker, log zerolog.Logger) *Oracle {
	return &Oracle{
		broker:   broker,
		log:      log.With().Str("service", "market_hours").Logger(),
		statuses: make(map[string]string),
	}
}

// Refresh replaces the snapshot with the broker's current market status.
func (o *Oracle) Refresh(ctx context.Context) error {
	markets, err := o.broker.GetMarketStatus(ctx)
	if err != nil {
		return &domain.BrokerError{Op: "get_market_status", Err: err}
	}

	statuses := make(map[string]string, len(markets))
	for _, m := range markets {
		statuses[normalizeExchange(m.Name)] = strings.ToUpper(m.Status)
	}

	o.mu.Lock()
	o.statuses = statuses
	o.fetchedAt = time.Now()
	o.mu.Unlock()
	return nil
}

// EnsureFresh refreshes the snapshot when it is older than five minutes.
// A refresh failure keeps the previous snapshot.
func (o *Oracle) EnsureFresh(ctx context.Context) {
	o.mu.RLock()
	stale := time.Since(o.fetchedAt) > maxSnapshotAge
	o.mu.RUnlock()
	if !stale {
		return
	}
	if err := o.Refresh(ctx); err != nil {
		o.log.Warn().Err(err).Msg("Market status refresh failed, keeping stale snapshot")
	}
}

// IsMarketOpen reports whether the exchange is open. Unknown exchanges
// fail open: the broker rejects a genuinely closed-market order anyway.
func (o *Oracle) IsMarketOpen(exchange string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status, ok := o.statuses[normalizeExchange(exchange)]
	if !ok {
		return true
	}
	return status == "OPEN"
}

// IsAnyMarketOpen reports whether at least one known market is open.
func (o *Oracle) IsAnyMarketOpen() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, status := range o.statuses {
		if status == "OPEN" {
			return true
		}
	}
	return false
}

// AreAllMarketsClosed is the explicit maintenance-window check.
func (o *Oracle) AreAllMarketsClosed() bool {
	return !o.IsAnyMarketOpen()
}

// ShouldCheckMarketHours returns whether a trade on the exchange requires
// an open-market check. SELL orders always do; BUY orders only on strict
// exchanges. Unknown exchanges fail open for buys.
func (o *Oracle) ShouldCheckMarketHours(exchange string, side domain.TradeSide) bool {
	if side == domain.SideSell {
		return true
	}
	return strictExchanges[normalizeExchange(exchange)]
}
