package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
)

// tradeHistoryStart is how far back trade and cash-flow syncs reach.
const tradeHistoryStart = "2020-01-01"

// Cache TTLs for task-produced entries.
const (
	quoteCacheTTL     = time.Hour
	rateCacheTTL      = 4 * time.Hour
	aggregateCacheTTL = 24 * time.Hour
)

// BuildRegistry returns the normative task registry: every job type with
// its task body and declared dependency names.
func BuildRegistry() map[string]TaskSpec {
	return map[string]TaskSpec{
		"sync:portfolio":      {Fn: taskSyncPortfolio, DependsOn: []string{"portfolio"}},
		"sync:prices":         {Fn: taskSyncPrices, DependsOn: []string{"db", "broker", "cache"}},
		"sync:quotes":         {Fn: taskSyncQuotes, DependsOn: []string{"db", "broker"}},
		"sync:metadata":       {Fn: taskSyncMetadata, DependsOn: []string{"db", "broker"}},
		"sync:exchange_rates": {Fn: taskSyncExchangeRates, DependsOn: []string{"currency", "cache"}},
		"sync:trades":         {Fn: taskSyncTrades, DependsOn: []string{"db", "broker"}},
		"sync:cashflows":      {Fn: taskSyncCashflows, DependsOn: []string{"db", "broker"}},
		"sync:dividends":      {Fn: taskSyncDividends, DependsOn: []string{"db", "broker"}},
		"snapshot:backfill":   {Fn: taskSnapshotBackfill, DependsOn: []string{"db", "currency"}},
		"aggregate:compute":   {Fn: taskAggregateCompute, DependsOn: []string{"db"}},
		"scoring:calculate":   {Fn: taskScoringCalculate, DependsOn: []string{"analyzer"}},
		"trading:check_markets": {Fn: taskTradingCheckMarkets, DependsOn: []string{"broker", "db", "planner"}},
		"trading:execute":       {Fn: taskTradingExecute, DependsOn: []string{"broker", "db", "planner"}},
		"trading:rebalance":     {Fn: taskTradingRebalance, DependsOn: []string{"planner"}},
		"trading:balance_fix":   {Fn: taskTradingBalanceFix, DependsOn: []string{"db", "broker"}},
		"planning:refresh":      {Fn: taskPlanningRefresh, DependsOn: []string{"db", "planner", "broker"}},
		"backup:r2":             {Fn: taskBackupR2, DependsOn: []string{"db"}},
		"ml:retrain": {
			Fn:           taskMLRetrain,
			DependsOn:    []string{"db", "analyzer"},
			FindSubjects: mlEnabledSymbols,
		},
		"ml:monitor": {
			Fn:           taskMLMonitor,
			DependsOn:    []string{"db", "analyzer"},
			FindSubjects: mlEnabledSymbols,
		},
	}
}

func taskSyncPortfolio(ctx context.Context, deps *Deps, _ string) error {
	return deps.Portfolio.Sync(ctx)
}

// taskSyncPrices clears the analysis cache BEFORE fetching new prices:
// stale analyses must never outlive the data they were computed from.
func taskSyncPrices(ctx context.Context, deps *Deps, _ string) error {
	cleared, err := deps.Cache.ClearPrefix(ctx, "analysis:")
	if err != nil {
		return err
	}
	deps.Log.Info().Int64("cleared", cleared).Msg("Cleared cached analyses before price sync")

	securities, err := deps.Securities.GetAllActive(ctx)
	if err != nil {
		return err
	}
	symbols := make([]string, len(securities))
	for i, sec := range securities {
		symbols[i] = sec.Symbol
	}

	bars, err := deps.Broker.GetHistoricalPricesBulk(ctx, symbols, 10)
	if err != nil {
		return &domain.BrokerError{Op: "get_historical_prices_bulk", Err: err}
	}
	synced := 0
	for symbol, data := range bars {
		if len(data) == 0 {
			continue
		}
		if err := deps.Prices.SaveBars(ctx, symbol, data); err != nil {
			return err
		}
		synced++
	}
	deps.Log.Info().Int("synced", synced).Int("total", len(symbols)).Msg("Price sync complete")
	return nil
}

func taskSyncQuotes(ctx context.Context, deps *Deps, _ string) error {
	securities, err := deps.Securities.GetAllActive(ctx)
	if err != nil {
		return err
	}
	if len(securities) == 0 {
		deps.Log.Info().Msg("No securities to sync quotes for")
		return nil
	}
	symbols := make([]string, len(securities))
	for i, sec := range securities {
		symbols[i] = sec.Symbol
	}
	quotes, err := deps.Broker.GetQuotes(ctx, symbols)
	if err != nil {
		return &domain.BrokerError{Op: "get_quotes", Err: err}
	}

	// Held positions get re-priced; the rest land in the quote cache.
	for symbol, quote := range quotes {
		if quote.Price <= 0 {
			continue
		}
		if pos, err := deps.Positions.Get(ctx, symbol); err == nil {
			pos.CurrentPrice = quote.Price
			if err := deps.Positions.Upsert(ctx, pos); err != nil {
				return err
			}
			continue
		}
		if err := deps.Cache.Set(ctx, "quote:"+symbol, quote.Price, quoteCacheTTL); err != nil {
			return err
		}
	}
	deps.Log.Info().Int("quotes", len(quotes)).Msg("Quote sync complete")
	return nil
}

// taskSyncMetadata refreshes lot sizes, ISINs and currencies from the
// broker. Currency always comes from the broker's security info.
func taskSyncMetadata(ctx context.Context, deps *Deps, _ string) error {
	securities, err := deps.Securities.GetAllActive(ctx)
	if err != nil {
		return err
	}
	synced := 0
	for _, sec := range securities {
		info, err := deps.Broker.GetSecurityInfo(ctx, sec.Symbol)
		if err != nil || info == nil {
			continue
		}
		fields := map[string]any{}
		if info.Currency != "" {
			fields["currency"] = strings.ToUpper(info.Currency)
		}
		if info.Lot >= 1 {
			fields["min_lot"] = info.Lot
		}
		if info.ISIN != "" {
			fields["isin"] = info.ISIN
		}
		if len(fields) == 0 {
			continue
		}
		if err := deps.Securities.Update(ctx, sec.Symbol, fields); err != nil {
			deps.Log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Metadata update failed")
			continue
		}
		synced++
	}
	deps.Log.Info().Int("synced", synced).Msg("Metadata sync complete")
	return nil
}

func taskSyncExchangeRates(ctx context.Context, deps *Deps, _ string) error {
	pairs := [][2]string{{"EUR", "USD"}, {"EUR", "GBP"}, {"EUR", "HKD"}, {"GBP", "USD"}}
	synced := 0
	for _, pair := range pairs {
		rate, err := deps.Currency.GetRate(ctx, pair[0], pair[1])
		if err != nil {
			deps.Log.Warn().Err(err).Str("pair", pair[0]+"/"+pair[1]).Msg("Rate sync failed")
			continue
		}
		if err := deps.Cache.Set(ctx, "fx:"+pair[0]+":"+pair[1], rate, rateCacheTTL); err != nil {
			return err
		}
		synced++
	}
	deps.Log.Info().Int("synced", synced).Msg("Exchange rates synced")
	return nil
}

func taskSyncTrades(ctx context.Context, deps *Deps, _ string) error {
	if !deps.Broker.IsConnected() {
		deps.Log.Warn().Msg("Broker not connected, skipping trades sync")
		return nil
	}
	deps.Bus.Emit(events.TradeSyncStart, &events.GenericData{Type: events.TradeSyncStart})

	trades, err := deps.Broker.GetTradesHistory(ctx, tradeHistoryStart)
	if err != nil {
		return &domain.BrokerError{Op: "get_trades_history", Err: err}
	}
	newCount, skipped := 0, 0
	for i := range trades {
		t := trades[i]
		if t.BrokerTradeID == "" || t.Symbol == "" {
			continue
		}
		// Broker timestamps arrive as "YYYY-MM-DD HH:MM:SS".
		t.ExecutedAt = strings.Replace(t.ExecutedAt, " ", "T", 1)
		inserted, err := deps.Trades.UpsertTrade(ctx, &t)
		if err != nil {
			return err
		}
		if inserted {
			newCount++
		} else {
			skipped++
		}
	}
	deps.Log.Info().Int("new", newCount).Int("existing", skipped).Msg("Trades sync complete")
	deps.Bus.Emit(events.TradeSyncComplete, &events.GenericData{Type: events.TradeSyncComplete})
	return nil
}

func taskSyncCashflows(ctx context.Context, deps *Deps, _ string) error {
	if !deps.Broker.IsConnected() {
		deps.Log.Warn().Msg("Broker not connected, skipping cashflows sync")
		return nil
	}
	deps.Bus.Emit(events.CashFlowSyncStart, &events.GenericData{Type: events.CashFlowSyncStart})

	flows, err := deps.Broker.GetCashFlows(ctx, tradeHistoryStart)
	if err != nil {
		return &domain.BrokerError{Op: "get_cash_flows", Err: err}
	}
	newCount, skipped := 0, 0
	for i := range flows {
		flow := flows[i]
		if flow.Date == "" || flow.TypeID == "" {
			continue
		}
		inserted, err := deps.Trades.UpsertCashFlow(ctx, &flow)
		if err != nil {
			deps.Log.Warn().Err(err).Msg("Skipping invalid cash flow entry")
			continue
		}
		if inserted {
			newCount++
		} else {
			skipped++
		}
	}
	deps.Log.Info().Int("new", newCount).Int("existing", skipped).Msg("Cash flows sync complete")
	deps.Bus.Emit(events.CashFlowSyncComplete, &events.GenericData{Type: events.CashFlowSyncComplete})
	return nil
}

func taskSyncDividends(ctx context.Context, deps *Deps, _ string) error {
	if !deps.Broker.IsConnected() {
		deps.Log.Warn().Msg("Broker not connected, skipping dividends sync")
		return nil
	}
	flows, err := deps.Broker.GetCashFlows(ctx, tradeHistoryStart)
	if err != nil {
		return &domain.BrokerError{Op: "get_cash_flows", Err: err}
	}
	synced := 0
	for i := range flows {
		flow := flows[i]
		if !strings.Contains(strings.ToLower(flow.TypeID), "dividend") {
			continue
		}
		if _, err := deps.Trades.UpsertCashFlow(ctx, &flow); err != nil {
			continue
		}
		synced++
	}
	deps.Log.Info().Int("dividends", synced).Msg("Dividend sync complete")
	return nil
}

func taskSnapshotBackfill(ctx context.Context, deps *Deps, _ string) error {
	return deps.Portfolio.SnapshotToday(ctx)
}

// taskAggregateCompute builds country and industry aggregate close series
// from member prices, cached for the charts surface.
func taskAggregateCompute(ctx context.Context, deps *Deps, _ string) error {
	securities, err := deps.Securities.GetAllActive(ctx)
	if err != nil {
		return err
	}

	byCountry := make(map[string][]string)
	byIndustry := make(map[string][]string)
	for _, sec := range securities {
		if sec.Country != "" {
			byCountry[sec.Country] = append(byCountry[sec.Country], sec.Symbol)
		}
		for _, industry := range sec.Industries() {
			byIndustry[industry] = append(byIndustry[industry], sec.Symbol)
		}
	}

	computed := 0
	for prefix, groups := range map[string]map[string][]string{"country": byCountry, "industry": byIndustry} {
		for name, symbols := range groups {
			series, err := aggregateCloses(ctx, deps, symbols)
			if err != nil {
				return err
			}
			if len(series) == 0 {
				continue
			}
			if err := deps.Cache.Set(ctx, fmt.Sprintf("aggregate:%s:%s", prefix, name), series, aggregateCacheTTL); err != nil {
				return err
			}
			computed++
		}
	}
	deps.Log.Info().Int("aggregates", computed).Msg("Aggregate computation complete")
	return nil
}

// aggregateCloses averages the normalized close series of group members.
func aggregateCloses(ctx context.Context, deps *Deps, symbols []string) ([]float64, error) {
	var series [][]float64
	minLen := -1
	for _, symbol := range symbols {
		closes, err := deps.Prices.GetCloses(ctx, symbol, 365, "")
		if err != nil {
			return nil, err
		}
		if len(closes) == 0 || closes[0] <= 0 {
			continue
		}
		normalized := make([]float64, len(closes))
		for i, c := range closes {
			normalized[i] = c / closes[0]
		}
		series = append(series, normalized)
		if minLen < 0 || len(normalized) < minLen {
			minLen = len(normalized)
		}
	}
	if len(series) == 0 {
		return nil, nil
	}
	out := make([]float64, minLen)
	for _, member := range series {
		offset := len(member) - minLen
		for i := 0; i < minLen; i++ {
			out[i] += member[offset+i] / float64(len(series))
		}
	}
	return out, nil
}

func taskScoringCalculate(ctx context.Context, deps *Deps, _ string) error {
	deps.Bus.Emit(events.ScoreRefreshStart, &events.GenericData{Type: events.ScoreRefreshStart})
	count, err := deps.Analyzer.UpdateScores(ctx)
	if err != nil {
		return err
	}
	deps.Log.Info().Int("scored", count).Msg("Score calculation complete")
	deps.Bus.Emit(events.ScoreRefreshComplete, &events.GenericData{Type: events.ScoreRefreshComplete})
	return nil
}

func taskTradingCheckMarkets(ctx context.Context, deps *Deps, _ string) error {
	if !deps.Broker.IsConnected() {
		deps.Log.Warn().Msg("Broker not connected, skipping market check")
		return nil
	}
	openSymbols, err := openMarketSymbols(ctx, deps)
	if err != nil {
		return err
	}
	if len(openSymbols) == 0 {
		deps.Log.Info().Msg("No securities with open markets")
		return nil
	}

	rec, err := deps.Planner.BestNextAction(ctx)
	if err != nil {
		deps.Log.Info().Msg("No pending recommendation for open markets")
		return nil
	}
	if openSymbols[rec.Symbol] {
		deps.Log.Info().Str("side", string(rec.Side)).Str("symbol", rec.Symbol).
			Int("quantity", rec.Quantity).Float64("price", rec.EstimatedPrice).
			Msg("Ready to trade")
	}
	return nil
}

// taskTradingExecute runs pending recommendations. Research mode logs
// what would happen; live mode executes sells before buys, each by
// priority, only against symbols whose exchange is currently open.
func taskTradingExecute(ctx context.Context, deps *Deps, _ string) error {
	if !deps.Broker.IsConnected() {
		deps.Log.Warn().Msg("Broker not connected, skipping trade execution")
		return nil
	}

	mode := "research"
	if deps.Settings != nil {
		if m, err := deps.Settings.Get(ctx, "trading_mode", "research"); err == nil {
			mode = m
		}
	}

	actions, err := bestSequenceActions(ctx, deps)
	if err != nil || len(actions) == 0 {
		deps.Log.Info().Msg("No trade recommendations")
		return nil
	}

	openSymbols, err := openMarketSymbols(ctx, deps)
	if err != nil {
		return err
	}

	if mode != "live" {
		for _, action := range actions {
			status := "CLOSED"
			if openSymbols[action.Symbol] {
				status = "OPEN"
			}
			deps.Log.Info().Str("mode", mode).Str("side", string(action.Side)).
				Str("symbol", action.Symbol).Int("quantity", action.Quantity).
				Str("market", status).Msg("Would execute trade")
		}
		return nil
	}

	var sells, buys []domain.ActionCandidate
	for _, action := range actions {
		if !openSymbols[action.Symbol] {
			continue
		}
		if action.Side == domain.SideSell {
			sells = append(sells, action)
		} else {
			buys = append(buys, action)
		}
	}
	sort.SliceStable(sells, func(i, j int) bool { return sells[i].Priority > sells[j].Priority })
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].Priority > buys[j].Priority })

	executed, failed := 0, 0
	for _, action := range append(sells, buys...) {
		result, err := deps.Broker.PlaceOrder(ctx, action.Symbol, action.Side, float64(action.Quantity))
		if err != nil || result == nil {
			deps.Log.Error().Err(err).Str("symbol", action.Symbol).Msg("Trade execution failed")
			failed++
			continue
		}
		deps.Bus.Emit(events.TradeExecuted, &events.TradeExecutedData{
			Symbol: action.Symbol, Side: string(action.Side),
			Quantity: action.Quantity, Price: action.Price, OrderID: result.OrderID,
		})
		executed++
	}
	deps.Log.Info().Int("executed", executed).Int("failed", failed).Msg("Trade execution complete")
	return nil
}

func taskTradingRebalance(ctx context.Context, deps *Deps, _ string) error {
	if deps.Rebalance == nil {
		return fmt.Errorf("rebalance service unavailable")
	}
	summary, err := deps.Rebalance.GetSummary(ctx)
	if err != nil {
		return err
	}
	if summary.NeedsRebalance {
		deps.Log.Warn().Float64("total_deviation", summary.TotalDeviation).
			Int("recommendations", len(summary.Recommendations)).
			Msg("Portfolio needs rebalancing")
		for _, rec := range summary.Recommendations {
			deps.Log.Warn().Str("side", string(rec.Action)).Str("symbol", rec.Symbol).
				Float64("value_eur", rec.ValueDeltaEUR).Str("reason", rec.Reason).
				Msg("Rebalance recommendation")
		}
	} else {
		deps.Log.Info().Msg("Portfolio is balanced")
	}
	return nil
}

// taskTradingBalanceFix cures negative currency balances by converting
// from positive balances, preferring EUR as the source. Conversions whose
// source is itself negative are blocked by the currency router.
func taskTradingBalanceFix(ctx context.Context, deps *Deps, _ string) error {
	if !deps.Broker.IsConnected() {
		deps.Log.Warn().Msg("Broker not connected, skipping balance fix")
		return nil
	}
	balances, err := deps.Cash.GetAll(ctx)
	if err != nil {
		return err
	}

	var negatives []string
	positives := make(map[string]float64)
	for currency, amount := range balances {
		if amount < 0 {
			negatives = append(negatives, currency)
		} else if amount > 0 {
			positives[currency] = amount
		}
	}
	if len(negatives) == 0 {
		deps.Log.Info().Msg("All currency balances are non-negative")
		return nil
	}
	sort.Strings(negatives)
	deps.Log.Warn().Strs("currencies", negatives).Msg("Found negative balances")
	if len(positives) == 0 {
		deps.Log.Error().Msg("No positive currency balances available for conversion")
		return nil
	}

	// EUR first, then the rest deterministically.
	sources := make([]string, 0, len(positives))
	if _, ok := positives["EUR"]; ok {
		sources = append(sources, "EUR")
	}
	var rest []string
	for currency := range positives {
		if currency != "EUR" {
			rest = append(rest, currency)
		}
	}
	sort.Strings(rest)
	sources = append(sources, rest...)

	for _, currency := range negatives {
		deficitEUR, err := deps.Currency.ToEUR(ctx, -balances[currency], currency)
		if err != nil {
			deps.Log.Error().Err(err).Str("currency", currency).Msg("Rate lookup failed for deficit")
			continue
		}
		minAmount := -balances[currency] + balanceBufferFor(ctx, deps, currency, deficitEUR)

		covered := false
		for _, source := range sources {
			if source == currency {
				continue
			}
			ok, err := deps.Currency.EnsureBalance(ctx, currency, minAmount, source)
			if err != nil {
				deps.Log.Error().Err(err).Str("currency", currency).Str("source", source).
					Msg("Balance conversion failed")
				continue
			}
			if ok {
				covered = true
				break
			}
		}
		if !covered {
			deps.Log.Warn().Str("currency", currency).Msg("Could not fully cover deficit")
		}
	}
	return nil
}

// balanceBufferFor converts the EUR balance buffer into target-currency
// units so the repaired balance lands slightly positive.
func balanceBufferFor(ctx context.Context, deps *Deps, currency string, _ float64) float64 {
	const bufferEUR = 10.0
	if currency == "EUR" {
		return bufferEUR
	}
	rate, err := deps.Currency.GetRate(ctx, "EUR", currency)
	if err != nil {
		return bufferEUR
	}
	return bufferEUR * rate
}

func taskPlanningRefresh(ctx context.Context, deps *Deps, _ string) error {
	cleared, err := deps.Cache.ClearPrefix(ctx, "planner:")
	if err != nil {
		return err
	}
	deps.Log.Info().Int64("cleared", cleared).Msg("Cleared planner cache entries")

	hash, err := deps.Planner.CurrentHash(ctx)
	if err != nil {
		return err
	}
	pruned, err := deps.Planner.Repo().DeleteForOtherHashes(ctx, hash)
	if err != nil {
		return err
	}
	deps.Log.Info().Int64("pruned", pruned).Msg("Pruned superseded planner sequences")
	return deps.Planner.ProcessBatch(ctx, 0)
}

func taskBackupR2(ctx context.Context, deps *Deps, _ string) error {
	if deps.Maintenance == nil {
		return fmt.Errorf("maintenance service unavailable")
	}
	return deps.Maintenance.R2Backup(ctx)
}

// mlEnabledSymbols is the fan-out source for the parameterized ML jobs.
func mlEnabledSymbols(ctx context.Context, deps *Deps) ([]string, error) {
	securities, err := deps.Securities.GetMLEnabled(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, len(securities))
	for i, sec := range securities {
		symbols[i] = sec.Symbol
	}
	return symbols, nil
}

func taskMLRetrain(ctx context.Context, deps *Deps, symbol string) error {
	if symbol == "" {
		deps.Log.Info().Msg("No ML-enabled securities to retrain")
		return nil
	}
	if err := deps.Analyzer.RecomputeMetrics(ctx, symbol); err != nil {
		return err
	}
	deps.Log.Info().Str("symbol", symbol).Msg("Model inputs retrained")
	return nil
}

func taskMLMonitor(ctx context.Context, deps *Deps, symbol string) error {
	if symbol == "" {
		deps.Log.Info().Msg("No ML-enabled securities to monitor")
		return nil
	}
	metrics, err := deps.Analyzer.Metrics(ctx, []string{symbol})
	if err != nil {
		return err
	}
	if len(metrics[symbol]) == 0 {
		deps.Log.Info().Str("symbol", symbol).Msg("No model metrics to evaluate")
		return nil
	}
	deps.Log.Info().Str("symbol", symbol).Int("metrics", len(metrics[symbol])).
		Msg("Model performance evaluated")
	return nil
}

// openMarketSymbols maps active symbols whose exchange is currently open.
func openMarketSymbols(ctx context.Context, deps *Deps) (map[string]bool, error) {
	statuses, err := deps.Broker.GetMarketStatus(ctx)
	if err != nil {
		return nil, &domain.BrokerError{Op: "get_market_status", Err: err}
	}
	openMarkets := make(map[string]bool)
	for _, m := range statuses {
		if m.Status == "OPEN" {
			openMarkets[strings.ToUpper(m.Name)] = true
		}
	}
	if len(openMarkets) == 0 {
		return map[string]bool{}, nil
	}

	securities, err := deps.Securities.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, sec := range securities {
		if openMarkets[strings.ToUpper(sec.Exchange)] {
			out[sec.Symbol] = true
		}
	}
	return out, nil
}

// bestSequenceActions returns the best evaluated sequence's actions.
func bestSequenceActions(ctx context.Context, deps *Deps) (domain.Sequence, error) {
	hash, err := deps.Planner.CurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	best, err := deps.Planner.Repo().GetBestResult(ctx, hash)
	if err != nil {
		return nil, err
	}
	return deps.Planner.Repo().GetBestSequenceFromHash(ctx, hash, best.SequenceHash)
}
