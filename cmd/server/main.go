// Command server runs the autonomous investment agent: scheduler, planner,
// trade-execution loop, maintenance calendar, and the HTTP control plane.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/broker"
	"github.com/aristath/helmsman/internal/clients/fxrates"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/lockfile"
	"github.com/aristath/helmsman/internal/maintenance"
	"github.com/aristath/helmsman/internal/market"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/analysis"
	"github.com/aristath/helmsman/internal/modules/cache"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/opportunities/calculators"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/prices"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
	"github.com/aristath/helmsman/internal/modules/scoring"
	seqfilters "github.com/aristath/helmsman/internal/modules/sequences/filters"
	seqgenerators "github.com/aristath/helmsman/internal/modules/sequences/generators"
	seqpatterns "github.com/aristath/helmsman/internal/modules/sequences/patterns"
	"github.com/aristath/helmsman/internal/modules/settings"
	"github.com/aristath/helmsman/internal/modules/trading"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/scheduler"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/internal/services"
	"github.com/aristath/helmsman/internal/strategy"
)

func main() {
	dataDirFlag := flag.String("data-dir", "", "Base directory for databases and lock files")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*dataDirFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration load failed")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Fatal error")
	}
	log.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "helmsman.db"),
		Profile: database.ProfileStandard,
		Name:    "helmsman",
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	bus := events.NewBus(log)
	locks, err := lockfile.NewManager(cfg.DataDir, log)
	if err != nil {
		return err
	}

	// Repositories.
	conn := db.Conn()
	securityRepo := universe.NewSecurityRepository(conn, log)
	scoreRepo := universe.NewScoreRepository(conn, log)
	positionRepo := portfolio.NewPositionRepository(conn, log)
	cashRepo := portfolio.NewCashRepository(conn, log)
	snapshotRepo := portfolio.NewSnapshotRepository(conn, log)
	settingsRepo := settings.NewRepository(conn, log)
	priceRepo := prices.NewRepository(conn, log)
	cacheRepo := cache.NewRepository(conn, log)
	tradeRepo := trading.NewTradeRepository(conn, log)
	allocationRepo := allocation.NewRepository(conn, log)
	plannerRepo := planning.NewRepository(conn, log)
	stateRepo := rebalancing.NewStateRepository(conn, log)
	scheduleRepo := scheduler.NewScheduleRepository(conn, log)
	historyRepo := scheduler.NewHistoryRepository(conn, log)

	// Typed options: defaults <- profile file <- settings DB.
	opts, err := config.LoadOptions(cfg.ProfilePath)
	if err != nil {
		return err
	}
	if err := opts.ApplySettings(ctx, settingsRepo); err != nil {
		return err
	}

	// Clients.
	brokerClient := broker.New(cfg.BrokerBaseURL, cfg.BrokerAPIKey, cfg.BrokerAPISecret, log)
	if _, err := brokerClient.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("Broker connect failed at startup, continuing in degraded mode")
	}
	fxFallback := fxrates.New(cfg.FXFallbackURL, log)
	currency := services.NewCurrencyExchangeService(brokerClient, fxFallback, log)

	oracle := market.NewOracle(brokerClient, log)
	if err := oracle.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial market status refresh failed")
	}

	// Services.
	portfolioService := portfolio.NewService(brokerClient, positionRepo, cashRepo,
		snapshotRepo, currency, bus, log)
	analyzer := analysis.NewService(conn, priceRepo, securityRepo, scoreRepo, log)
	contexts := services.NewContextBuilder(positionRepo, cashRepo, securityRepo, scoreRepo,
		priceRepo, allocationRepo, currency, log)

	// Module registries from the declarative profile.
	oppRegistry := opportunities.NewRegistry([]opportunities.Calculator{
		calculators.ProfitTaking{},
		calculators.AveragingDown{},
		calculators.OpportunityBuys{},
		calculators.RebalanceBuys{},
		calculators.RebalanceSells{},
	}, toModuleConfig(opts.OpportunityCalculators), log)
	patternRegistry := seqpatterns.NewRegistry([]seqpatterns.Generator{
		seqpatterns.DirectBuy{},
		seqpatterns.SingleBest{},
		seqpatterns.ProfitTakingPattern{},
		seqpatterns.OpportunityFirst{},
		seqpatterns.CashGeneration{},
		seqpatterns.CostOptimized{},
		seqpatterns.DeepRebalance{},
	}, toModuleConfig(opts.PatternGenerators), log)
	generatorConfig := toModuleConfig(opts.SequenceGenerators)
	if !opts.EnableCombinatorialGeneration {
		generatorConfig["combinatorial"] = opportunities.ModuleConfig{Enabled: false}
		generatorConfig["enhanced_combinatorial"] = opportunities.ModuleConfig{Enabled: false}
	}
	generatorRegistry := seqgenerators.NewRegistry([]seqgenerators.Generator{
		seqgenerators.Combinatorial{},
		seqgenerators.EnhancedCombinatorial{},
	}, generatorConfig, log)
	filterRegistry := seqfilters.NewRegistry([]seqfilters.Filter{
		seqfilters.CorrelationAware{},
	}, toModuleConfig(opts.SequenceFilters), log)

	plannerTrigger := newPlannerTrigger(cfg.SelfBaseURL, log)
	planner := planning.NewService(plannerRepo, contexts, analyzer,
		oppRegistry, patternRegistry, generatorRegistry, filterRegistry,
		bus, plannerTrigger, planning.Config{
			BatchSize:    opts.PlannerBatchSize,
			BatchSizeAPI: opts.PlannerBatchSizeAPI,
			RiskProfile:  scoring.ProfileBalanced,
		}, log)

	knobs := rebalancing.DefaultKnobs()
	knobs.TransactionCostFixed = opts.TransactionCostFixed
	knobs.TransactionCostPercent = opts.TransactionCostPercent
	knobs.MinTradeValueEUR = opts.MinTradeValue
	knobs.CoreFloorPct = opts.StrategyCoreFloorPct
	knobs.MaxFundingSellsPerCycle = opts.StrategyMaxFundingSellsPerCycle
	knobs.MaxFundingTurnoverPct = opts.StrategyMaxFundingTurnoverPct
	knobs.LotStandardMaxPct = opts.StrategyLotStandardMaxPct
	knobs.LotCoarseMaxPct = opts.StrategyLotCoarseMaxPct
	engine := rebalancing.NewEngine(currency, knobs, log)
	rebalance := services.NewRebalanceService(contexts, cashRepo, stateRepo, engine, locks, bus,
		strategy.TargetParams{
			CoreTarget:        0.8,
			OpportunityTarget: 0.2,
			MinOppScore:       opts.StrategyMinOppScore,
		}, log)

	pnl := trading.NewPnLTracker(dayValues{portfolio: portfolioService, snapshots: snapshotRepo},
		0.02, 0.05, log)
	frequency := trading.NewFrequencyService(15*time.Minute, log)
	execution := services.NewTradeExecutionService(services.ExecutionConfig{
		Locks:       locks,
		Planner:     planner,
		Portfolio:   portfolioService,
		Positions:   positionRepo,
		Securities:  securityRepo,
		Trades:      tradeRepo,
		Frequency:   frequency,
		PnL:         pnl,
		Oracle:      oracle,
		Broker:      brokerClient,
		Bus:         bus,
		Timings:     services.DefaultExecutionTimings(),
		MinTradeEUR: opts.MinTradeValue,
		Log:         log,
	})

	// Maintenance.
	var r2 *maintenance.R2Client
	r2cfg := maintenance.R2Config{
		AccountID: opts.R2AccountID, AccessKey: opts.R2AccessKey,
		SecretKey: opts.R2SecretKey, BucketName: opts.R2BucketName,
	}
	if r2cfg.Configured() {
		if client, err := maintenance.NewR2Client(ctx, r2cfg, log); err == nil {
			r2 = client
		} else {
			log.Warn().Err(err).Msg("R2 client init failed, off-site backups disabled")
		}
	}
	retention := maintenance.DefaultRetention()
	retention.DailyPriceDays = opts.DailyPriceRetentionDays
	retention.SnapshotDays = opts.SnapshotRetentionDays
	retention.BackupCount = opts.BackupRetentionCount
	maint := maintenance.NewService([]*database.DB{db}, cfg.DataDir, locks,
		cacheRepo, priceRepo, snapshotRepo, r2, retention, bus, log)
	if err := maint.StartCalendar(ctx); err != nil {
		return err
	}
	defer maint.StopCalendar()

	// Scheduler.
	if err := scheduler.SeedSchedules(ctx, scheduleRepo); err != nil {
		return err
	}
	deps := &scheduler.Deps{
		Broker:      brokerClient,
		Portfolio:   portfolioService,
		Positions:   positionRepo,
		Cash:        cashRepo,
		Snapshots:   snapshotRepo,
		Securities:  securityRepo,
		Scores:      scoreRepo,
		Prices:      priceRepo,
		Cache:       cacheRepo,
		Trades:      tradeRepo,
		Planner:     planner,
		Currency:    currency,
		Rebalance:   rebalance,
		Execution:   execution,
		Analyzer:    analyzer,
		Maintenance: maint,
		Settings:    settingsRepo,
		Bus:         bus,
		Log:         log,
	}
	runner := scheduler.NewRunner(scheduler.BuildRegistry(), deps, scheduleRepo, historyRepo,
		oracle, bus, log)
	if err := runner.Init(ctx); err != nil {
		return err
	}
	defer runner.Stop()

	// Autonomous execution loop, gated by the event-driven flag.
	if opts.EventDrivenRebalancingEnabled && opts.TradingMode == "live" {
		go func() {
			if err := execution.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Trade execution loop exited")
			}
		}()
	}

	httpServer := server.New(runner, planner, bus, cfg.Port, log)
	return httpServer.Start(ctx)
}

// dayValues adapts portfolio valuation to the P&L tracker: today's
// snapshot is the day-open reference.
type dayValues struct {
	portfolio *portfolio.Service
	snapshots *portfolio.SnapshotRepository
}

func (d dayValues) TotalValueEUR(ctx context.Context) (float64, error) {
	return d.portfolio.TotalValueEUR(ctx)
}

func (d dayValues) DayOpenValueEUR(ctx context.Context) (float64, error) {
	// The most recent snapshot approximates the day-open value; the
	// backfill job writes it daily.
	return d.snapshots.LatestTotal(ctx)
}

func toModuleConfig(in map[string]config.ModuleConfig) map[string]opportunities.ModuleConfig {
	out := make(map[string]opportunities.ModuleConfig, len(in))
	for name, cfg := range in {
		out[name] = opportunities.ModuleConfig{Enabled: cfg.Enabled, Params: cfg.Params}
	}
	return out
}

// newPlannerTrigger posts the next planner batch to our own control
// plane. Best-effort with a 30 s timeout; failures fall back to the
// scheduler re-entering the planner.
func newPlannerTrigger(baseURL string, log zerolog.Logger) planning.NextBatchTrigger {
	client := &http.Client{Timeout: 30 * time.Second}
	return func(ctx context.Context, portfolioHash string, depth int) {
		body, err := json.Marshal(map[string]any{
			"portfolio_hash": portfolioHash,
			"depth":          depth,
		})
		if err != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+"/api/status/jobs/planner-batch", bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to trigger next planner batch via API")
			return
		}
		_ = resp.Body.Close()
	}
}
