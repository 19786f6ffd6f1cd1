package planning

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/opportunities/calculators"
	"github.com/aristath/helmsman/internal/modules/scoring"
	"github.com/aristath/helmsman/internal/modules/sequences/filters"
	"github.com/aristath/helmsman/internal/modules/sequences/generators"
	"github.com/aristath/helmsman/internal/modules/sequences/patterns"
	"github.com/aristath/helmsman/internal/strategy"
)

type stubRates struct{}

func (stubRates) ToEUR(_ context.Context, amount float64, _ string) (float64, error) {
	return amount, nil
}

func (stubRates) GetRate(context.Context, string, string) (float64, error) { return 1.0, nil }

type stubContextSource struct{ pctx *opportunities.PortfolioContext }

func (s stubContextSource) Build(context.Context) (*opportunities.PortfolioContext, error) {
	return s.pctx, nil
}

type stubMetrics struct{}

func (stubMetrics) Metrics(context.Context, []string) (map[string]scoring.Metrics, error) {
	return map[string]scoring.Metrics{}, nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path: "file:planning_" + t.Name() + "?mode=memory&cache=shared",
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func scenarioContext() *opportunities.PortfolioContext {
	// Scenario A shape: one quality security, no position, cash on hand.
	return &opportunities.PortfolioContext{
		Positions: nil,
		Securities: []domain.Security{
			{Symbol: "AAPL.US", Name: "Apple", Currency: "USD", MinLot: 1,
				AllowBuy: true, AllowSell: true, Active: true, PriorityMultiplier: 1.0},
		},
		SecurityScores:   map[string]float64{"AAPL.US": 0.80},
		Signals:          map[string]strategy.Signal{"AAPL.US": {DipScore: 0.6, OppScore: 0.7}},
		Prices:           map[string]float64{"AAPL.US": 120},
		AvailableCashEUR: 1200,
		Rates:            stubRates{},
	}
}

func newPlanner(t *testing.T, pctx *opportunities.PortfolioContext, trigger NextBatchTrigger) *Service {
	t.Helper()
	db := newTestDB(t)
	log := zerolog.Nop()

	oppRegistry := opportunities.NewRegistry([]opportunities.Calculator{
		calculators.OpportunityBuys{},
		calculators.AveragingDown{},
		calculators.ProfitTaking{},
	}, map[string]opportunities.ModuleConfig{
		"opportunity_buys": {Enabled: true, Params: map[string]any{"base_trade_amount_eur": 900.0}},
	}, log)
	patRegistry := patterns.NewRegistry([]patterns.Generator{
		patterns.DirectBuy{}, patterns.SingleBest{},
	}, nil, log)
	genRegistry := generators.NewRegistry([]generators.Generator{generators.Combinatorial{}}, nil, log)
	filRegistry := filters.NewRegistry([]filters.Filter{filters.CorrelationAware{}}, nil, log)

	return NewService(NewRepository(db.Conn(), log), stubContextSource{pctx: pctx}, stubMetrics{},
		oppRegistry, patRegistry, genRegistry, filRegistry,
		events.NewBus(log), trigger, Config{BatchSize: 50, BatchSizeAPI: 2}, log)
}

func TestProcessBatchGeneratesAndEvaluates(t *testing.T) {
	planner := newPlanner(t, scenarioContext(), nil)
	ctx := context.Background()

	require.NoError(t, planner.ProcessBatch(ctx, 0))

	hash, err := planner.CurrentHash(ctx)
	require.NoError(t, err)

	has, err := planner.Repo().HasSequences(ctx, hash)
	require.NoError(t, err)
	assert.True(t, has)

	finished, err := planner.Repo().AreAllSequencesEvaluated(ctx, hash)
	require.NoError(t, err)
	assert.True(t, finished, "batch size covers all sequences in this scenario")
}

func TestBestNextActionIsOpportunisticBuy(t *testing.T) {
	planner := newPlanner(t, scenarioContext(), nil)
	ctx := context.Background()
	require.NoError(t, planner.ProcessBatch(ctx, 0))

	rec, err := planner.BestNextAction(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AAPL.US", rec.Symbol)
	assert.Equal(t, domain.SideBuy, rec.Side)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Positive(t, rec.Quantity)
	assert.InDelta(t, 120.0, rec.EstimatedPrice, 1e-9)
}

func TestPersistedSequencesKeepSellsFirst(t *testing.T) {
	pctx := scenarioContext()
	// Add a windfall position so profit-taking emits sells.
	pctx.Positions = []domain.Position{
		{Symbol: "AAPL.US", Quantity: 20, AvgPrice: 80, CurrentPrice: 120,
			Currency: "USD", MarketValueEUR: 2400},
	}
	planner := newPlanner(t, pctx, nil)
	ctx := context.Background()
	require.NoError(t, planner.ProcessBatch(ctx, 0))

	hash, err := planner.CurrentHash(ctx)
	require.NoError(t, err)
	// Everything got evaluated already; inspect the best evaluated sequence.
	total, err := planner.Repo().GetTotalSequenceCount(ctx, hash)
	require.NoError(t, err)
	require.Positive(t, total)

	best, err := planner.Repo().GetBestResult(ctx, hash)
	require.NoError(t, err)
	seq, err := planner.Repo().GetBestSequenceFromHash(ctx, hash, best.SequenceHash)
	require.NoError(t, err)

	seenBuy := false
	for _, action := range seq {
		if action.Side == domain.SideBuy {
			seenBuy = true
		} else {
			assert.False(t, seenBuy, "sells precede buys in persisted sequences")
		}
	}
}

func TestAPIDrivenModeSelfTriggersUntilFinished(t *testing.T) {
	var triggered []int
	var planner *Service
	trigger := func(ctx context.Context, hash string, depth int) {
		triggered = append(triggered, depth)
		_ = planner.ProcessBatch(ctx, depth)
	}
	planner = newPlanner(t, scenarioContext(), trigger)

	require.NoError(t, planner.ProcessBatch(context.Background(), 1))

	hash, err := planner.CurrentHash(context.Background())
	require.NoError(t, err)
	finished, err := planner.Repo().AreAllSequencesEvaluated(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, finished, "self-trigger chain drains all batches")
	for i, depth := range triggered {
		assert.Equal(t, i+2, depth, "depth increments monotonically")
	}
}

func TestProgressPercentage(t *testing.T) {
	planner := newPlanner(t, scenarioContext(), nil)
	ctx := context.Background()
	require.NoError(t, planner.ProcessBatch(ctx, 0))

	hash, err := planner.CurrentHash(ctx)
	require.NoError(t, err)
	progress, err := planner.Progress(ctx, hash, false)
	require.NoError(t, err)

	assert.True(t, progress.HasSequences)
	assert.Equal(t, progress.TotalSequences, progress.EvaluatedCount)
	assert.InDelta(t, 100.0, progress.ProgressPercentage, 1e-9)
	assert.True(t, progress.IsFinished)
	assert.Len(t, progress.PortfolioHash, 8)
}
