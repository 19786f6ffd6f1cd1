package rebalancing

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/strategy"
)

// Knobs are the engine's configured thresholds and caps.
type Knobs struct {
	BaseTradeAmountEUR      float64
	TransactionCostFixed    float64
	TransactionCostPercent  float64 // Fraction, e.g. 0.002
	MinTradeValueEUR        float64
	CoreFloorPct            float64 // Core positions never sell below this fraction of portfolio value
	TimeStopDays            int
	MaxFundingSellsPerCycle int
	MaxFundingTurnoverPct   float64
	BalanceBufferEUR        float64
	LotStandardMaxPct       float64
	LotCoarseMaxPct         float64
	FundingConvictionBias   float64
	MinAllocationDelta      float64 // Gap below which no trade is proposed
}

// DefaultKnobs returns the canonical knob values.
func DefaultKnobs() Knobs {
	return Knobs{
		BaseTradeAmountEUR:      1000.0,
		TransactionCostFixed:    2.0,
		TransactionCostPercent:  0.002,
		MinTradeValueEUR:        500.0,
		CoreFloorPct:            0.02,
		TimeStopDays:            120,
		MaxFundingSellsPerCycle: 2,
		MaxFundingTurnoverPct:   0.12,
		BalanceBufferEUR:        10.0,
		LotStandardMaxPct:       0.01,
		LotCoarseMaxPct:         0.05,
		FundingConvictionBias:   1.0,
		MinAllocationDelta:      0.005,
	}
}

// Input is one rebalance pass's view of the world.
type Input struct {
	Context      *opportunities.PortfolioContext
	Allocations  map[string]float64       // symbol -> target fraction
	Sleeves      map[string]domain.Sleeve // symbol -> sleeve
	States       map[string]SymbolState
	CashBalances map[string]float64 // currency -> amount
	CashEUR      float64            // Available cash in EUR
	TotalValue   float64            // Portfolio value incl. cash, EUR
	Now          time.Time
}

// Engine turns targets plus current state into an ordered list of
// whole-lot TradeRecommendations.
type Engine struct {
	rates opportunities.RateSource
	knobs Knobs
	log   zerolog.Logger
}

// NewEngine creates a rebalance engine.
func NewEngine(rates opportunities.RateSource, knobs Knobs, log zerolog.Logger) *Engine {
	return &Engine{
		rates: rates,
		knobs: knobs,
		log:   log.With().Str("service", "rebalance_engine").Logger(),
	}
}

// BuildRecommendations runs the full pipeline: base actions, priorities,
// cash-constraint reconciliation, deficit funding, annotation. Output is
// sells first then buys, each side by priority descending.
func (e *Engine) BuildRecommendations(ctx context.Context, in Input) ([]domain.TradeRecommendation, error) {
	if in.Context == nil || len(in.Allocations) == 0 {
		return nil, &domain.ValidationError{Field: "input", Message: "requires portfolio context and targets"}
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	recs := e.baseActions(ctx, in)

	recs, err := e.applyCashConstraint(ctx, in, recs)
	if err != nil {
		return nil, err
	}

	deficitSells, err := e.cashDeficitSells(ctx, in)
	if err != nil {
		return nil, err
	}
	recs = mergeSells(deficitSells, recs)

	sortRecommendations(recs)
	return recs, nil
}

// baseActions chooses buy/sell/hold per security. Candidate-level
// failures (missing price, missing rate) skip the candidate.
func (e *Engine) baseActions(ctx context.Context, in Input) []domain.TradeRecommendation {
	var out []domain.TradeRecommendation
	pctx := in.Context

	symbols := make(map[string]bool, len(in.Allocations))
	for s := range in.Allocations {
		symbols[s] = true
	}
	for _, pos := range pctx.Positions {
		symbols[pos.Symbol] = true
	}
	ordered := make([]string, 0, len(symbols))
	for s := range symbols {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	for _, symbol := range ordered {
		sec := pctx.SecurityFor(symbol)
		if sec == nil {
			continue
		}
		pos := pctx.PositionFor(symbol)
		price := pctx.PriceFor(symbol)
		if price <= 0 {
			continue
		}
		rate, err := pctx.Rates.GetRate(ctx, sec.Currency, "EUR")
		if err != nil || rate <= 0 {
			continue
		}

		var currentValue float64
		var heldQty int
		var avgCost float64
		if pos != nil {
			currentValue = pos.MarketValueEUR
			heldQty = pos.Quantity
			avgCost = pos.AvgPrice
		}
		currentAlloc := 0.0
		if in.TotalValue > 0 {
			currentAlloc = currentValue / in.TotalValue
		}
		targetAlloc := in.Allocations[symbol]
		delta := targetAlloc - currentAlloc

		signal := pctx.Signals[symbol]
		sleeve := in.Sleeves[symbol]
		if sleeve == "" {
			sleeve = domain.SleeveCore
		}
		state := in.States[symbol]
		lot := strategy.ClassifyLotSize(price, sec.MinLot, rate, in.TotalValue,
			e.knobs.TransactionCostFixed, e.knobs.TransactionCostPercent,
			e.knobs.LotStandardMaxPct, e.knobs.LotCoarseMaxPct)

		// Opportunity exit rules outrank allocation targets.
		if sleeve == domain.SleeveOpportunity && heldQty > 0 && sec.AllowSell {
			if exit := ForcedOpportunityExit(signal, state, heldQty, price, avgCost,
				sec.MinLot, in.Now, e.knobs.TimeStopDays); exit != nil && exit.Quantity > 0 {
				out = append(out, e.sellRecommendation(sellSpec{
					sec: sec, qty: exit.Quantity, price: price, rate: rate,
					currentAlloc: currentAlloc, targetAlloc: targetAlloc,
					currentValue: currentValue, signal: signal, sleeve: sleeve,
					lot: lot, reason: exit.Reason, reasonCode: exit.ReasonCode,
					totalValue: in.TotalValue,
				}))
				continue
			}
		}

		switch {
		case delta > e.knobs.MinAllocationDelta && sec.AllowBuy:
			// Opportunity buys ride the tranche ladder: no new tranche,
			// no new money.
			if sleeve == domain.SleeveOpportunity &&
				DesiredTrancheStage(signal.DD252) <= state.TrancheStage && heldQty > 0 {
				continue
			}
			targetEUR := math.Min(delta*in.TotalValue, e.knobs.BaseTradeAmountEUR)
			sized := opportunities.CalculateBuyQuantity(targetEUR, price, sec.MinLot, rate)
			if sized.Quantity == 0 || sized.ValueEUR < e.knobs.MinTradeValueEUR {
				continue
			}
			rec := domain.TradeRecommendation{
				Symbol:            symbol,
				Action:            domain.SideBuy,
				CurrentAllocation: currentAlloc,
				TargetAllocation:  targetAlloc,
				AllocationDelta:   delta,
				CurrentValueEUR:   currentValue,
				TargetValueEUR:    targetAlloc * in.TotalValue,
				ValueDeltaEUR:     sized.ValueEUR,
				Quantity:          sized.Quantity,
				Price:             price,
				Currency:          sec.Currency,
				LotSize:           sec.MinLot,
				ContrarianScore:   signal.OppScore,
				Priority:          CalculatePriority(domain.SideBuy, delta, signal.OppScore),
				Reason:            BuyReason(signal.OppScore, currentAlloc, targetAlloc, signal, lot.LotClass),
				ReasonCode:        "target_underweight",
				Sleeve:            sleeve,
				LotClass:          lot.LotClass,
				TicketPct:         lot.TicketPct,
			}
			out = append(out, rec)

		case delta < -e.knobs.MinAllocationDelta && heldQty > 0 && sec.AllowSell:
			excessEUR := -delta * in.TotalValue
			sized := opportunities.CalculateSellQuantity(excessEUR, price, sec.MinLot, heldQty, rate)
			if sized.Quantity == 0 {
				continue
			}
			spec := sellSpec{
				sec: sec, qty: sized.Quantity, price: price, rate: rate,
				currentAlloc: currentAlloc, targetAlloc: targetAlloc,
				currentValue: currentValue, signal: signal, sleeve: sleeve, lot: lot,
				reason:     SellReason(symbol, signal.OppScore, currentAlloc, targetAlloc, sleeve),
				reasonCode: "target_overweight",
				totalValue: in.TotalValue,
			}
			rec := e.sellRecommendation(spec)
			if rec.Quantity > 0 {
				out = append(out, rec)
			}
		}
	}
	return out
}

type sellSpec struct {
	sec          *domain.Security
	qty          int
	price        float64
	rate         float64
	currentAlloc float64
	targetAlloc  float64
	currentValue float64
	signal       strategy.Signal
	sleeve       domain.Sleeve
	lot          strategy.LotClassification
	reason       string
	reasonCode   string
	totalValue   float64
}

// sellRecommendation builds a sell, applying the core floor: a core
// position is never sold below the configured fraction of portfolio
// value. Quantity 0 means the floor swallowed the sell.
func (e *Engine) sellRecommendation(s sellSpec) domain.TradeRecommendation {
	qty := s.qty
	coreFloorActive := false

	if s.sleeve == domain.SleeveCore && e.knobs.CoreFloorPct > 0 && s.totalValue > 0 {
		floorEUR := e.knobs.CoreFloorPct * s.totalValue
		sellEUR := float64(qty) * s.price * s.rate
		if s.currentValue-sellEUR < floorEUR {
			allowedEUR := s.currentValue - floorEUR
			if allowedEUR <= 0 {
				return domain.TradeRecommendation{}
			}
			allowedQty := int(allowedEUR/(s.price*s.rate)) / s.sec.MinLot * s.sec.MinLot
			if allowedQty < s.sec.MinLot {
				return domain.TradeRecommendation{}
			}
			qty = allowedQty
			coreFloorActive = true
		}
	}

	sellEUR := float64(qty) * s.price * s.rate
	return domain.TradeRecommendation{
		Symbol:            s.sec.Symbol,
		Action:            domain.SideSell,
		CurrentAllocation: s.currentAlloc,
		TargetAllocation:  s.targetAlloc,
		AllocationDelta:   s.targetAlloc - s.currentAlloc,
		CurrentValueEUR:   s.currentValue,
		TargetValueEUR:    math.Max(0, s.currentValue-sellEUR),
		ValueDeltaEUR:     -sellEUR,
		Quantity:          qty,
		Price:             s.price,
		Currency:          s.sec.Currency,
		LotSize:           s.sec.MinLot,
		ContrarianScore:   s.signal.OppScore,
		Priority:          CalculatePriority(domain.SideSell, s.targetAlloc-s.currentAlloc, s.signal.OppScore),
		Reason:            s.reason,
		ReasonCode:        s.reasonCode,
		Sleeve:            s.sleeve,
		LotClass:          s.lot.LotClass,
		TicketPct:         s.lot.TicketPct,
		CoreFloorActive:   coreFloorActive,
	}
}

// mergeSells prepends funding/deficit sells, dropping duplicates of
// symbols already being sold.
func mergeSells(newSells, recs []domain.TradeRecommendation) []domain.TradeRecommendation {
	if len(newSells) == 0 {
		return recs
	}
	existing := make(map[string]bool)
	for _, r := range recs {
		if r.Action == domain.SideSell {
			existing[r.Symbol] = true
		}
	}
	out := make([]domain.TradeRecommendation, 0, len(recs)+len(newSells))
	for _, s := range newSells {
		if !existing[s.Symbol] {
			out = append(out, s)
		}
	}
	return append(out, recs...)
}

// sortRecommendations orders sells before buys, each side by priority
// descending.
func sortRecommendations(recs []domain.TradeRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Action != recs[j].Action {
			return recs[i].Action == domain.SideSell
		}
		return recs[i].Priority > recs[j].Priority
	})
}
