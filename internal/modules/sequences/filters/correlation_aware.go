package filters

import (
	"math"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/opportunities"
)

// CorrelationAware drops sequences whose BUY legs contain a pair of
// symbols with |correlation| above the threshold. Without correlation
// data the filter passes everything through.
type CorrelationAware struct {
	// Correlations maps "SYM1:SYM2" to the pair's correlation.
	Correlations map[string]float64
}

func (CorrelationAware) Name() string { return "correlation_aware" }

func (CorrelationAware) DefaultParams() opportunities.Params {
	return opportunities.Params{"correlation_threshold": 0.7}
}

func (f CorrelationAware) Filter(sequences []domain.Sequence, params opportunities.Params) []domain.Sequence {
	if len(f.Correlations) == 0 {
		return sequences
	}
	threshold := params.Float("correlation_threshold", 0.7)

	out := make([]domain.Sequence, 0, len(sequences))
	for _, seq := range sequences {
		if !f.hasCorrelatedBuys(seq, threshold) {
			out = append(out, seq)
		}
	}
	return out
}

func (f CorrelationAware) hasCorrelatedBuys(seq domain.Sequence, threshold float64) bool {
	var buys []string
	for _, action := range seq {
		if action.Side == domain.SideBuy {
			buys = append(buys, action.Symbol)
		}
	}
	for i, sym1 := range buys {
		for _, sym2 := range buys[i+1:] {
			corr, ok := f.Correlations[sym1+":"+sym2]
			if !ok {
				corr, ok = f.Correlations[sym2+":"+sym1]
			}
			if ok && math.Abs(corr) > threshold {
				return true
			}
		}
	}
	return false
}
