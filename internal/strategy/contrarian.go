// Package strategy implements the deterministic contrarian signal block,
// lot-size classification, and the core/opportunity target builder.
package strategy

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/helmsman/internal/domain"
)

// MinSignalHistory is the shortest close series that produces a real
// signal; shorter series yield the neutral block.
const MinSignalHistory = 130

// Signal is the deterministic contrarian metric block for one symbol.
type Signal struct {
	DD252             float64 // Current drawdown from trailing 252-day max
	DD252RecentMin    float64 // Min rolling drawdown over the last ~42 days
	RSI14             float64
	Mom20             float64
	Mom60             float64
	Mom120            float64
	Vol20             float64
	VolRatio          float64 // sigma20 / sigma120
	DipScore          float64 // [0,1], ramp of |dd252| from 0.12 to 0.35
	CapitulationScore float64 // [0,1], ramp of RSI from 30 down to 10
	CycleTurn         int     // 1 iff mom20 > mom60 and mom20 > -0.02
	FreefallBlock     int     // 1 iff mom20 < -0.12 and vol_ratio > 1.5
	OppScore          float64
	CoreRank          float64 // mom120 - 0.5*vol20
}

// NeutralSignal is returned on insufficient history.
func NeutralSignal() Signal {
	return Signal{RSI14: 50.0, VolRatio: 1.0}
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// RecentDD252Min returns the minimum rolling-252 drawdown observed in the
// recent lookback window (default 42 days).
func RecentDD252Min(closes []float64, windowDays int) float64 {
	if len(closes) == 0 {
		return 0.0
	}
	if windowDays < 1 {
		windowDays = 1
	}
	start := len(closes) - windowDays
	if start < 0 {
		start = 0
	}
	min := math.Inf(1)
	for i := start; i < len(closes); i++ {
		rollStart := i - 251
		if rollStart < 0 {
			rollStart = 0
		}
		rollMax := 0.0
		for _, c := range closes[rollStart : i+1] {
			if c > rollMax {
				rollMax = c
			}
		}
		dd := 0.0
		if rollMax > 0 {
			dd = closes[i]/rollMax - 1.0
		}
		if dd < min {
			min = dd
		}
	}
	if math.IsInf(min, 1) {
		return 0.0
	}
	return min
}

// rsi14 is the simple-average RSI over the last 14 deltas.
func rsi14(closes []float64) float64 {
	if len(closes) < 15 {
		return 50.0
	}
	var gains, losses float64
	for i := len(closes) - 14; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta >= 0 {
			gains += delta
		} else {
			losses += -delta
		}
	}
	avgGain := gains / 14
	avgLoss := losses / 14
	if avgLoss <= 1e-12 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// ComputeSignal computes the contrarian metric block from a close series
// (oldest first). Series shorter than MinSignalHistory yield the neutral
// block with OppScore 0.
func ComputeSignal(closes []float64) Signal {
	if len(closes) < MinSignalHistory {
		return NeutralSignal()
	}

	last := closes[len(closes)-1]
	rollStart := len(closes) - 252
	if rollStart < 0 {
		rollStart = 0
	}
	rollingMax := last
	for _, c := range closes[rollStart:] {
		if c > rollingMax {
			rollingMax = c
		}
	}
	dd252 := 0.0
	if rollingMax > 0 {
		dd252 = last/rollingMax - 1.0
	}

	momAt := func(lookback int) float64 {
		ref := closes[len(closes)-1-lookback]
		if ref <= 0 {
			return 0.0
		}
		return last/ref - 1.0
	}
	mom20 := momAt(20)
	mom60 := momAt(60)
	mom120 := momAt(120)

	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			returns = append(returns, math.Log(closes[i]/closes[i-1]))
		}
	}
	tail := func(n int) []float64 {
		if len(returns) < n {
			return returns
		}
		return returns[len(returns)-n:]
	}
	vol20 := 0.0
	if len(returns) >= 20 {
		vol20 = stat.PopStdDev(tail(20), nil)
	}
	vol120 := vol20
	if len(returns) >= 120 {
		vol120 = stat.PopStdDev(tail(120), nil)
	} else if vol120 <= 0 {
		vol120 = 1e-9
	}
	volRatio := vol20 / math.Max(vol120, 1e-9)

	dip := clip((math.Abs(dd252)-0.12)/0.23, 0.0, 1.0)
	cap := clip((30.0-rsi14(closes))/20.0, 0.0, 1.0)
	turn := 0
	if mom20 > mom60 && mom20 > -0.02 {
		turn = 1
	}
	block := 0
	if mom20 < -0.12 && volRatio > 1.5 {
		block = 1
	}
	opp := 0.5*dip + 0.3*cap + 0.2*float64(turn)
	if block == 1 {
		opp = 0.0
	}

	return Signal{
		DD252:             dd252,
		DD252RecentMin:    RecentDD252Min(closes, 42),
		RSI14:             rsi14(closes),
		Mom20:             mom20,
		Mom60:             mom60,
		Mom120:            mom120,
		Vol20:             vol20,
		VolRatio:          volRatio,
		DipScore:          dip,
		CapitulationScore: cap,
		CycleTurn:         turn,
		FreefallBlock:     block,
		OppScore:          clip(opp, 0.0, 1.0),
		CoreRank:          mom120 - 0.5*vol20,
	}
}

// EffectiveOpportunityScore applies the guarded event-memory boost: when
// the cycle has turned, no freefall is in progress, and the recent rolling
// drawdown reached at least the first entry tranche, the raw score is
// raised by up to maxBoost scaled with drawdown depth.
func EffectiveOpportunityScore(rawOppScore float64, cycleTurn, freefallBlock int,
	recentDD252Min, entryT1DD, entryT3DD, maxBoost float64) float64 {
	raw := clip(rawOppScore, 0.0, 1.0)
	if freefallBlock == 1 || cycleTurn != 1 {
		return raw
	}
	if recentDD252Min > entryT1DD {
		return raw
	}
	depthDen := math.Max(1e-9, math.Abs(entryT3DD-entryT1DD))
	depth := clip((math.Abs(recentDD252Min)-math.Abs(entryT1DD))/depthDen, 0.0, 1.0)
	boost := maxBoost * (0.4 + 0.6*depth)
	return clip(raw+boost, 0.0, 1.0)
}

// LotClassification is the minimum-ticket sizing verdict for one symbol.
type LotClassification struct {
	MinTicketEUR float64
	TicketPct    float64
	LotClass     domain.LotClass
}

// ClassifyLotSize classifies a symbol's minimum tradable ticket against
// portfolio value. The ticket cost is one lot at price, converted to EUR,
// plus fixed and percentage fees.
func ClassifyLotSize(price float64, lotSize int, fxRateToEUR, portfolioValueEUR,
	feeFixedEUR, feePct, standardMaxPct, coarseMaxPct float64) LotClassification {
	oneLotLocal := math.Max(0.0, float64(lotSize)*price)
	oneLotEUR := oneLotLocal * math.Max(fxRateToEUR, 0.0)
	minTicketEUR := oneLotEUR + math.Max(0.0, feeFixedEUR) + oneLotEUR*math.Max(0.0, feePct)

	ticketPct := 1.0
	if portfolioValueEUR > 0 {
		ticketPct = minTicketEUR / portfolioValueEUR
	}

	lotClass := domain.LotJumbo
	switch {
	case ticketPct <= standardMaxPct:
		lotClass = domain.LotStandard
	case ticketPct <= coarseMaxPct:
		lotClass = domain.LotCoarse
	}
	return LotClassification{MinTicketEUR: minTicketEUR, TicketPct: ticketPct, LotClass: lotClass}
}
