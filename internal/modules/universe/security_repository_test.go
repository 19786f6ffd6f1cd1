package universe

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

func newRepos(t *testing.T) (*SecurityRepository, *ScoreRepository, *database.DB) {
	t.Helper()
	db, err := database.New(database.Config{
		Path: "file:universe_" + t.Name() + "?mode=memory&cache=shared",
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	log := zerolog.Nop()
	return NewSecurityRepository(db.Conn(), log), NewScoreRepository(db.Conn(), log), db
}

func apple() *domain.Security {
	return &domain.Security{
		Symbol: "AAPL.US", Name: "Apple", Currency: "USD", Country: "United States",
		Industry: "Technology, Consumer Electronics", Exchange: "NASDAQ",
		MinLot: 1, AllowBuy: true, AllowSell: true, Active: true,
		PriorityMultiplier: 1.0, YahooSymbol: "AAPL", ISIN: "US0378331005",
	}
}

func TestCreateAndGetBySymbol(t *testing.T) {
	securities, _, _ := newRepos(t)
	ctx := context.Background()
	require.NoError(t, securities.Create(ctx, apple()))

	sec, err := securities.GetBySymbol(ctx, "aapl.us")
	require.NoError(t, err)
	assert.Equal(t, "AAPL.US", sec.Symbol)
	assert.Equal(t, "USD", sec.Currency)
	assert.Equal(t, []string{"Technology", "Consumer Electronics"}, sec.Industries())
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	securities, _, _ := newRepos(t)
	ctx := context.Background()

	var verr *domain.ValidationError
	err := securities.Create(ctx, &domain.Security{Name: "No Symbol"})
	assert.ErrorAs(t, err, &verr)

	err = securities.Create(ctx, &domain.Security{Symbol: "XX"})
	assert.ErrorAs(t, err, &verr)
}

func TestGetByIdentifierRoutesByType(t *testing.T) {
	securities, _, _ := newRepos(t)
	ctx := context.Background()
	require.NoError(t, securities.Create(ctx, apple()))

	byISIN, err := securities.GetByIdentifier(ctx, "US0378331005")
	require.NoError(t, err)
	assert.Equal(t, "AAPL.US", byISIN.Symbol)

	byTradernet, err := securities.GetByIdentifier(ctx, "AAPL.US")
	require.NoError(t, err)
	assert.Equal(t, "AAPL.US", byTradernet.Symbol)

	byYahoo, err := securities.GetByIdentifier(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL.US", byYahoo.Symbol)

	_, err = securities.GetByIdentifier(ctx, "GHOST")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeactivatePreservesHistoryDeletesPosition(t *testing.T) {
	securities, scores, db := newRepos(t)
	ctx := context.Background()
	require.NoError(t, securities.Create(ctx, apple()))

	// A held position and a score exist.
	_, err := db.Conn().ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_price, current_price, currency, market_value_eur)
		VALUES ('AAPL.US', 10, 100, 120, 'USD', 1100)`)
	require.NoError(t, err)
	require.NoError(t, scores.Save(ctx, &domain.Score{
		Symbol: "AAPL.US", TotalScore: 0.8, CalculatedAt: time.Now(),
	}))

	require.NoError(t, securities.Deactivate(ctx, "AAPL.US"))

	sec, err := securities.GetBySymbol(ctx, "AAPL.US")
	require.NoError(t, err, "row is soft-deleted, never removed")
	assert.False(t, sec.Active)

	var positionCount int
	require.NoError(t, db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM positions WHERE symbol = 'AAPL.US'").Scan(&positionCount))
	assert.Zero(t, positionCount, "current-state rows are deleted")

	score, err := scores.GetLatest(ctx, "AAPL.US")
	require.NoError(t, err, "history is preserved")
	assert.InDelta(t, 0.8, score.TotalScore, 1e-12)
}

func TestUpdateRejectsUnknownColumns(t *testing.T) {
	securities, _, _ := newRepos(t)
	ctx := context.Background()
	require.NoError(t, securities.Create(ctx, apple()))

	var verr *domain.ValidationError
	err := securities.Update(ctx, "AAPL.US", map[string]any{"symbol": "HACK"})
	assert.ErrorAs(t, err, &verr)

	require.NoError(t, securities.Update(ctx, "AAPL.US", map[string]any{"priority_multiplier": 1.5}))
	sec, err := securities.GetBySymbol(ctx, "AAPL.US")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, sec.PriorityMultiplier, 1e-12)
}

func TestScoreOverwriteKeepsLatest(t *testing.T) {
	_, scores, _ := newRepos(t)
	ctx := context.Background()

	earlier := time.Now().Add(-time.Hour)
	require.NoError(t, scores.Save(ctx, &domain.Score{Symbol: "AAA", TotalScore: 0.4, CalculatedAt: earlier}))
	require.NoError(t, scores.Save(ctx, &domain.Score{Symbol: "AAA", TotalScore: 0.7, CalculatedAt: time.Now()}))

	latest, err := scores.GetLatest(ctx, "AAA")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, latest.TotalScore, 1e-12)

	all, err := scores.GetLatestAll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, all["AAA"], 1e-12)
}
