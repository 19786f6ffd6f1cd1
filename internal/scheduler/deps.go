package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/maintenance"
	"github.com/aristath/helmsman/internal/modules/analysis"
	"github.com/aristath/helmsman/internal/modules/cache"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/prices"
	"github.com/aristath/helmsman/internal/modules/trading"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/services"
)

// Deps is the dependency record injected into every task. Tasks declare
// the names they need; the execution wrapper refuses to run a task whose
// dependency is missing.
type Deps struct {
	Broker      domain.Broker
	Portfolio   *portfolio.Service
	Positions   *portfolio.PositionRepository
	Cash        *portfolio.CashRepository
	Snapshots   *portfolio.SnapshotRepository
	Securities  *universe.SecurityRepository
	Scores      *universe.ScoreRepository
	Prices      *prices.Repository
	Cache       *cache.Repository
	Trades      *trading.TradeRepository
	Planner     *planning.Service
	Currency    *services.CurrencyExchangeService
	Rebalance   *services.RebalanceService
	Execution   *services.TradeExecutionService
	Analyzer    *analysis.Service
	Maintenance *maintenance.Service
	Settings    SettingsSource
	Bus         *events.Bus
	Log         zerolog.Logger
}

// SettingsSource is the slice of the settings repository tasks use.
type SettingsSource interface {
	Get(ctx context.Context, key, def string) (string, error)
}

// Missing returns the first absent dependency name, or "".
func (d *Deps) Missing(names []string) string {
	for _, name := range names {
		if !d.has(name) {
			return name
		}
	}
	return ""
}

func (d *Deps) has(name string) bool {
	switch name {
	case "broker":
		return d.Broker != nil
	case "portfolio":
		return d.Portfolio != nil
	case "positions":
		return d.Positions != nil
	case "cash":
		return d.Cash != nil
	case "snapshots":
		return d.Snapshots != nil
	case "securities":
		return d.Securities != nil
	case "scores":
		return d.Scores != nil
	case "prices", "db":
		return d.Prices != nil
	case "cache":
		return d.Cache != nil
	case "trades":
		return d.Trades != nil
	case "planner":
		return d.Planner != nil
	case "currency":
		return d.Currency != nil
	case "rebalance":
		return d.Rebalance != nil
	case "execution":
		return d.Execution != nil
	case "analyzer":
		return d.Analyzer != nil
	case "maintenance":
		return d.Maintenance != nil
	case "settings":
		return d.Settings != nil
	default:
		return false
	}
}
