package rebalancing

import (
	"context"
	"math"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
)

// applyCashConstraint scales buys down to fit the available budget:
// trim low-rank buys below the median, rotate weak holdings into cash for
// the rest, shrink survivors to minimum lots, then redistribute and
// greedily top up whole lots with the leftover.
func (e *Engine) applyCashConstraint(ctx context.Context, in Input,
	recs []domain.TradeRecommendation) ([]domain.TradeRecommendation, error) {

	fixedFee := e.knobs.TransactionCostFixed
	pctFee := e.knobs.TransactionCostPercent

	var sells, buys []domain.TradeRecommendation
	for _, r := range recs {
		if r.Action == domain.SideSell {
			sells = append(sells, r)
		} else {
			buys = append(buys, r)
		}
	}
	if len(buys) == 0 {
		return recs, nil
	}

	netSellProceeds := 0.0
	for _, s := range sells {
		value := math.Abs(s.ValueDeltaEUR)
		netSellProceeds += value - CalculateTransactionCost(value, fixedFee, pctFee)
	}
	availableBudget := in.CashEUR + netSellProceeds

	buyCost := func(b domain.TradeRecommendation) float64 {
		return b.ValueDeltaEUR + CalculateTransactionCost(b.ValueDeltaEUR, fixedFee, pctFee)
	}
	totalBuyCosts := 0.0
	for _, b := range buys {
		totalBuyCosts += buyCost(b)
	}

	convictions := e.convictions(in)

	// Budget tight and several buys: drop below-median ranks
	// (priority x (0.5+conviction)), lowest rank first, until the rest fit.
	if totalBuyCosts > availableBudget && len(buys) > 1 {
		type ranked struct {
			rec  domain.TradeRecommendation
			rank float64
		}
		rankedBuys := make([]ranked, len(buys))
		for i, b := range buys {
			conviction := convictionOf(convictions, b.Symbol)
			rankedBuys[i] = ranked{rec: b, rank: b.Priority * (0.5 + conviction)}
		}
		sort.SliceStable(rankedBuys, func(i, j int) bool { return rankedBuys[i].rank < rankedBuys[j].rank })
		medianRank := rankedBuys[len(rankedBuys)/2].rank

		trimmed := make(map[string]bool)
		runningCost := totalBuyCosts
		for _, rb := range rankedBuys {
			if runningCost <= availableBudget {
				break
			}
			if rb.rank >= medianRank {
				continue
			}
			trimmed[rb.rec.Symbol] = true
			runningCost -= buyCost(rb.rec)
		}
		if len(trimmed) > 0 {
			kept := buys[:0]
			for _, b := range buys {
				if !trimmed[b.Symbol] {
					kept = append(kept, b)
				}
			}
			buys = kept
			totalBuyCosts = 0
			for _, b := range buys {
				totalBuyCosts += buyCost(b)
			}
		}
	}

	if len(buys) == 0 {
		return sells, nil
	}
	if totalBuyCosts <= availableBudget {
		return append(sells, buys...), nil
	}

	// Still short: rotate weak holdings into cash, capped by count and
	// turnover, never selling above the buy side's conviction ceiling.
	deficit := totalBuyCosts - availableBudget
	if deficit > 0 {
		buyConvictionCap := 0.5
		for _, b := range buys {
			if c := convictionOf(convictions, b.Symbol); c > buyConvictionCap {
				buyConvictionCap = c
			}
		}
		fundingSells, err := e.generateDeficitSells(ctx, in, deficit+e.knobs.BalanceBufferEUR,
			"funding_rotation", &buyConvictionCap)
		if err != nil {
			return nil, err
		}
		if len(fundingSells) > 0 {
			if e.knobs.MaxFundingSellsPerCycle >= 0 && len(fundingSells) > e.knobs.MaxFundingSellsPerCycle {
				fundingSells = fundingSells[:e.knobs.MaxFundingSellsPerCycle]
			}
			if in.TotalValue > 0 && e.knobs.MaxFundingTurnoverPct > 0 {
				maxTurnover := in.TotalValue * e.knobs.MaxFundingTurnoverPct
				var capped []domain.TradeRecommendation
				running := 0.0
				for _, s := range fundingSells {
					value := math.Abs(s.ValueDeltaEUR)
					if len(capped) == 0 || running+value <= maxTurnover {
						capped = append(capped, s)
						running += value
					}
				}
				fundingSells = capped
			}

			existingSellSymbols := make(map[string]bool)
			for _, s := range sells {
				existingSellSymbols[s.Symbol] = true
			}
			for _, s := range fundingSells {
				if !existingSellSymbols[s.Symbol] {
					sells = append(sells, s)
				}
			}
			netSellProceeds = 0
			for _, s := range sells {
				value := math.Abs(s.ValueDeltaEUR)
				netSellProceeds += value - CalculateTransactionCost(value, fixedFee, pctFee)
			}
			availableBudget = in.CashEUR + netSellProceeds
			if totalBuyCosts <= availableBudget {
				return append(sells, buys...), nil
			}
		}
	}

	// Scale down: minimum whole-lot sizes that still clear min trade
	// value, then distribute the remainder by ideal-cost gap.
	finalBuys, err := e.scaleBuysToBudget(ctx, in, buys, availableBudget)
	if err != nil {
		return nil, err
	}
	if len(finalBuys) == 0 {
		return sells, nil
	}
	return append(sells, finalBuys...), nil
}

type buyMinimum struct {
	buy       domain.TradeRecommendation
	minQty    int
	minEUR    float64
	minCost   float64
	idealCost float64
}

func (e *Engine) scaleBuysToBudget(ctx context.Context, in Input,
	buys []domain.TradeRecommendation, availableBudget float64) ([]domain.TradeRecommendation, error) {

	fixedFee := e.knobs.TransactionCostFixed
	pctFee := e.knobs.TransactionCostPercent
	minTradeValue := e.knobs.MinTradeValueEUR

	sorted := make([]domain.TradeRecommendation, len(buys))
	copy(sorted, buys)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	remaining := availableBudget
	var minimums []buyMinimum
	for _, buy := range sorted {
		rate, err := in.Context.Rates.GetRate(ctx, buy.Currency, "EUR")
		if err != nil || rate <= 0 {
			continue
		}
		oneLotEUR := float64(buy.LotSize) * buy.Price * rate
		if oneLotEUR <= 0 {
			continue
		}

		var minQty int
		var minEUR float64
		if oneLotEUR >= minTradeValue {
			minQty = buy.LotSize
			minEUR = oneLotEUR
		} else {
			lotsNeeded := int(minTradeValue/oneLotEUR) + 1
			minQty = lotsNeeded * buy.LotSize
			minEUR = float64(lotsNeeded) * oneLotEUR
		}
		if minQty > buy.Quantity {
			minQty = buy.Quantity
			minEUR = float64(minQty) * buy.Price * rate
		}

		minimums = append(minimums, buyMinimum{
			buy:       buy,
			minQty:    minQty,
			minEUR:    minEUR,
			minCost:   minEUR + CalculateTransactionCost(minEUR, fixedFee, pctFee),
			idealCost: buy.ValueDeltaEUR + CalculateTransactionCost(buy.ValueDeltaEUR, fixedFee, pctFee),
		})
	}

	var included []buyMinimum
	for _, m := range minimums {
		if m.minCost <= remaining {
			included = append(included, m)
			remaining -= m.minCost
		}
	}
	if len(included) == 0 {
		return nil, nil
	}

	totalExtraNeeded := 0.0
	for _, m := range included {
		totalExtraNeeded += math.Max(0, m.idealCost-m.minCost)
	}

	var finalBuys []domain.TradeRecommendation
	for _, m := range included {
		allocatedEUR := m.minEUR
		if totalExtraNeeded > 0 && remaining > 0 {
			extraNeeded := math.Max(0, m.idealCost-m.minCost)
			extraBudget := (extraNeeded / totalExtraNeeded) * remaining
			allocatedEUR += extraBudget / (1 + pctFee)
		}

		rate, err := in.Context.Rates.GetRate(ctx, m.buy.Currency, "EUR")
		if err != nil || rate <= 0 {
			continue
		}
		localValue := allocatedEUR / rate
		roundedQty := int(localValue/m.buy.Price) / m.buy.LotSize * m.buy.LotSize
		if roundedQty < m.buy.LotSize {
			continue
		}
		actualEUR := float64(roundedQty) * m.buy.Price * rate
		if actualEUR < minTradeValue {
			continue
		}

		rec := m.buy
		rec.Quantity = roundedQty
		rec.ValueDeltaEUR = actualEUR
		finalBuys = append(finalBuys, rec)
	}
	sort.SliceStable(finalBuys, func(i, j int) bool { return finalBuys[i].Priority > finalBuys[j].Priority })

	// Greedy top-up by whole lots while the leftover budget covers them.
	totalCost := 0.0
	for _, b := range finalBuys {
		totalCost += b.ValueDeltaEUR + CalculateTransactionCost(b.ValueDeltaEUR, fixedFee, pctFee)
	}
	leftover := availableBudget - totalCost

	for iterations := 0; leftover > 0 && iterations < 1000; iterations++ {
		addedAny := false
		for i := range finalBuys {
			buy := &finalBuys[i]
			rate, err := in.Context.Rates.GetRate(ctx, buy.Currency, "EUR")
			if err != nil || rate <= 0 {
				continue
			}
			oneLotEUR := float64(buy.LotSize) * buy.Price * rate
			oneLotCost := oneLotEUR + CalculateTransactionCost(oneLotEUR, fixedFee, pctFee)
			if oneLotCost <= leftover {
				buy.Quantity += buy.LotSize
				buy.ValueDeltaEUR = float64(buy.Quantity) * buy.Price * rate
				leftover -= oneLotCost
				addedAny = true
			}
		}
		if !addedAny {
			break
		}
	}

	return finalBuys, nil
}

// cashDeficitSells covers negative currency balances that positive
// balances cannot: the uncovered EUR gap is raised by selling the weakest
// holdings.
func (e *Engine) cashDeficitSells(ctx context.Context, in Input) ([]domain.TradeRecommendation, error) {
	totalDeficitEUR := 0.0
	for currency, amount := range in.CashBalances {
		if amount >= 0 {
			continue
		}
		eur, err := in.Context.Rates.ToEUR(ctx, math.Abs(amount), currency)
		if err != nil {
			continue
		}
		totalDeficitEUR += eur + e.knobs.BalanceBufferEUR
	}
	if totalDeficitEUR == 0 {
		return nil, nil
	}

	totalPositiveEUR := 0.0
	for currency, amount := range in.CashBalances {
		if amount <= 0 {
			continue
		}
		eur, err := in.Context.Rates.ToEUR(ctx, amount, currency)
		if err != nil {
			continue
		}
		totalPositiveEUR += eur
	}

	uncovered := totalDeficitEUR - totalPositiveEUR
	if uncovered <= 0 {
		return nil, nil
	}
	return e.generateDeficitSells(ctx, in, uncovered, "cash_deficit", nil)
}

type deficitPosition struct {
	pos        domain.Position
	sec        *domain.Security
	rate       float64
	score      float64
	eurValue   float64
	overweight float64
	conviction float64
}

// generateDeficitSells selects positions to sell to raise deficitEUR.
// Funding rotations sort by (-overweight, conviction², score, value) and
// honor the conviction cap: a higher-conviction holding is never rotated
// into a lower-conviction buy. Cash-deficit repairs sell weakest first.
func (e *Engine) generateDeficitSells(ctx context.Context, in Input, deficitEUR float64,
	reasonKind string, maxSellConviction *float64) ([]domain.TradeRecommendation, error) {

	pctx := in.Context
	convictions := e.convictions(in)

	var candidates []deficitPosition
	for _, pos := range pctx.Positions {
		if pos.Quantity <= 0 {
			continue
		}
		sec := pctx.SecurityFor(pos.Symbol)
		if sec == nil || !sec.AllowSell {
			continue
		}
		price := pos.CurrentPrice
		if price <= 0 {
			continue
		}
		rate, err := pctx.Rates.GetRate(ctx, pos.Currency, "EUR")
		if err != nil || rate <= 0 {
			continue
		}

		signal := pctx.Signals[pos.Symbol]
		eurValue := float64(pos.Quantity) * price * rate
		currentAlloc := 0.0
		if in.TotalValue > 0 {
			currentAlloc = eurValue / in.TotalValue
		}
		targetAlloc := in.Allocations[pos.Symbol]

		candidates = append(candidates, deficitPosition{
			pos:        pos,
			sec:        sec,
			rate:       rate,
			score:      signal.OppScore,
			eurValue:   eurValue,
			overweight: math.Max(0, currentAlloc-targetAlloc),
			conviction: convictionOf(convictions, pos.Symbol),
		})
	}

	if maxSellConviction != nil {
		convictionCap := clamp01(*maxSellConviction)
		var limited []deficitPosition
		for _, c := range candidates {
			if c.conviction <= convictionCap {
				limited = append(limited, c)
			}
		}
		if reasonKind == "funding_rotation" && len(limited) == 0 {
			// Never force high-conviction sells to fund low-conviction buys.
			return nil, nil
		}
		if len(limited) > 0 {
			candidates = limited
		}
	}

	bias := e.knobs.FundingConvictionBias
	if reasonKind == "funding_rotation" {
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.overweight != b.overweight {
				return a.overweight > b.overweight
			}
			ca := a.conviction * a.conviction * bias
			cb := b.conviction * b.conviction * bias
			if ca != cb {
				return ca < cb
			}
			if a.score != b.score {
				return a.score < b.score
			}
			return a.eurValue < b.eurValue
		})
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.score != b.score {
				return a.score < b.score
			}
			return a.eurValue < b.eurValue
		})
	}

	var sells []domain.TradeRecommendation
	remaining := deficitEUR
	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		lotSize := c.sec.MinLot
		var sellQty int
		if c.eurValue <= remaining {
			sellQty = c.pos.Quantity / lotSize * lotSize
		} else {
			localNeeded := remaining / c.rate
			sharesNeeded := localNeeded / c.pos.CurrentPrice
			sellQty = int(math.Ceil(sharesNeeded/float64(lotSize))) * lotSize
			if sellQty > c.pos.Quantity {
				sellQty = c.pos.Quantity
			}
		}
		if sellQty < lotSize {
			continue
		}

		sellEUR := float64(sellQty) * c.pos.CurrentPrice * c.rate
		currentAlloc := 0.0
		targetAlloc := 0.0
		if in.TotalValue > 0 {
			currentAlloc = c.eurValue / in.TotalValue
			targetAlloc = math.Max(0, (c.eurValue-sellEUR)/in.TotalValue)
		}

		reason := "Sell to repair negative cash balance"
		reasonCode := "cash_deficit_repair"
		if reasonKind == "funding_rotation" {
			reason = "Sell to fund higher-priority buys"
			reasonCode = "funding_rotation_sell"
		}

		sells = append(sells, domain.TradeRecommendation{
			Symbol:            c.pos.Symbol,
			Action:            domain.SideSell,
			CurrentAllocation: currentAlloc,
			TargetAllocation:  targetAlloc,
			AllocationDelta:   targetAlloc - currentAlloc,
			CurrentValueEUR:   c.eurValue,
			TargetValueEUR:    math.Max(0, c.eurValue-sellEUR),
			ValueDeltaEUR:     -sellEUR,
			Quantity:          sellQty,
			Price:             c.pos.CurrentPrice,
			Currency:          c.pos.Currency,
			LotSize:           lotSize,
			ContrarianScore:   c.score,
			Priority:          1000,
			Reason:            reason,
			ReasonCode:        reasonCode,
			Sleeve:            domain.SleeveCore,
		})
		remaining -= sellEUR
	}
	return sells, nil
}

// convictions maps symbols to clamped user conviction (default 0.5).
func (e *Engine) convictions(in Input) map[string]float64 {
	out := make(map[string]float64, len(in.Context.Securities))
	for _, sec := range in.Context.Securities {
		out[sec.Symbol] = clamp01(sec.PriorityMultiplier)
	}
	return out
}

func convictionOf(convictions map[string]float64, symbol string) float64 {
	if c, ok := convictions[symbol]; ok {
		return c
	}
	return 0.5
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}
