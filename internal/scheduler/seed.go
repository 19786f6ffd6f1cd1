package scheduler

import (
	"context"
	"errors"

	"github.com/aristath/helmsman/internal/domain"
)

func intPtr(v int) *int { return &v }

// DefaultSchedules returns the canonical schedule rows for the task
// registry: normal and market-open intervals plus the timing gate.
func DefaultSchedules() []JobSchedule {
	return []JobSchedule{
		{JobType: "sync:portfolio", IntervalMinutes: 30, IntervalMarketOpenMinutes: intPtr(5),
			MarketTiming: TimingAny, Enabled: true, Category: "sync", Description: "Sync positions and cash from broker"},
		{JobType: "sync:prices", IntervalMinutes: 360, MarketTiming: TimingAfterClose, Enabled: true,
			Category: "sync", Description: "Sync historical prices"},
		{JobType: "sync:quotes", IntervalMinutes: 60, IntervalMarketOpenMinutes: intPtr(15),
			MarketTiming: TimingDuringOpen, Enabled: true, Category: "sync", Description: "Sync live quotes"},
		{JobType: "sync:metadata", IntervalMinutes: 1440, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Sync security metadata"},
		{JobType: "sync:exchange_rates", IntervalMinutes: 240, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Sync FX rates"},
		{JobType: "sync:trades", IntervalMinutes: 120, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Sync trade history"},
		{JobType: "sync:cashflows", IntervalMinutes: 240, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Sync cash flows"},
		{JobType: "sync:dividends", IntervalMinutes: 1440, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Sync dividends"},
		{JobType: "snapshot:backfill", IntervalMinutes: 1440, MarketTiming: TimingAny, Enabled: true,
			Category: "snapshot", Description: "Record daily portfolio snapshot"},
		{JobType: "aggregate:compute", IntervalMinutes: 1440, MarketTiming: TimingAllMarketsClosed, Enabled: true,
			Category: "analytics", Description: "Compute group aggregate series"},
		{JobType: "scoring:calculate", IntervalMinutes: 720, MarketTiming: TimingAfterClose, Enabled: true,
			Category: "analytics", Description: "Recompute security scores"},
		{JobType: "trading:check_markets", IntervalMinutes: 30, IntervalMarketOpenMinutes: intPtr(10),
			MarketTiming: TimingAny, Enabled: true, Category: "trading", Description: "Log actionable trades for open markets"},
		{JobType: "trading:execute", IntervalMinutes: 60, IntervalMarketOpenMinutes: intPtr(15),
			MarketTiming: TimingDuringOpen, Enabled: true, Category: "trading", Description: "Execute pending recommendations"},
		{JobType: "trading:rebalance", IntervalMinutes: 720, MarketTiming: TimingAny, Enabled: true,
			Category: "trading", Description: "Check portfolio balance"},
		{JobType: "trading:balance_fix", IntervalMinutes: 360, MarketTiming: TimingAny, Enabled: true,
			Category: "trading", Description: "Repair negative currency balances"},
		{JobType: "planning:refresh", IntervalMinutes: 240, MarketTiming: TimingAny, Enabled: true,
			Category: "planning", Description: "Refresh plan caches and sequences"},
		{JobType: "backup:r2", IntervalMinutes: 1440, MarketTiming: TimingAllMarketsClosed, Enabled: true,
			Category: "maintenance", Description: "Off-site backup to R2"},
		{JobType: "ml:retrain", IntervalMinutes: 1440, MarketTiming: TimingAllMarketsClosed, Enabled: true,
			Category: "ml", Description: "Retrain per-symbol models",
			ParamSource: "securities", ParamField: "ml_enabled"},
		{JobType: "ml:monitor", IntervalMinutes: 720, MarketTiming: TimingAny, Enabled: true,
			Category: "ml", Description: "Monitor per-symbol model performance",
			ParamSource: "securities", ParamField: "ml_enabled"},
	}
}

// SeedSchedules inserts any missing default schedule rows. Existing rows
// keep their user-tuned intervals and bookkeeping.
func SeedSchedules(ctx context.Context, repo *ScheduleRepository) error {
	for _, schedule := range DefaultSchedules() {
		_, err := repo.Get(ctx, schedule.JobType)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		s := schedule
		if err := repo.Upsert(ctx, &s); err != nil {
			return err
		}
	}
	return nil
}
