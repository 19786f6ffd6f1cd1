package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/helmsman/internal/domain"
)

func buySeq(symbols ...string) domain.Sequence {
	seq := make(domain.Sequence, len(symbols))
	for i, s := range symbols {
		seq[i] = domain.ActionCandidate{Side: domain.SideBuy, Symbol: s, Quantity: 1, ValueEUR: 100}
	}
	return seq
}

func TestCorrelationFilterDropsCorrelatedBuyPairs(t *testing.T) {
	f := CorrelationAware{Correlations: map[string]float64{
		"GLD:SLV": 0.92,
		"SPY:QQQ": 0.93,
		"GLD:SPY": 0.25,
	}}
	sequences := []domain.Sequence{
		buySeq("GLD", "SLV"),
		buySeq("GLD", "SPY"),
		buySeq("SPY", "QQQ"),
	}

	out := f.Filter(sequences, f.DefaultParams())

	assert.Len(t, out, 1)
	assert.Equal(t, "GLD", out[0][0].Symbol)
	assert.Equal(t, "SPY", out[0][1].Symbol)
}

func TestCorrelationFilterChecksBothKeyDirections(t *testing.T) {
	f := CorrelationAware{Correlations: map[string]float64{"AAA:BBB": -0.9}}

	out := f.Filter([]domain.Sequence{buySeq("BBB", "AAA")}, f.DefaultParams())
	assert.Empty(t, out, "negative correlation beyond threshold also drops")
}

func TestCorrelationFilterPassesThroughWithoutData(t *testing.T) {
	f := CorrelationAware{}
	sequences := []domain.Sequence{buySeq("GLD", "SLV")}

	out := f.Filter(sequences, f.DefaultParams())
	assert.Equal(t, sequences, out)
}

func TestCorrelationFilterIgnoresSellLegs(t *testing.T) {
	f := CorrelationAware{Correlations: map[string]float64{"GLD:SLV": 0.92}}
	seq := domain.Sequence{
		{Side: domain.SideSell, Symbol: "GLD", Quantity: 1, ValueEUR: 100},
		{Side: domain.SideBuy, Symbol: "SLV", Quantity: 1, ValueEUR: 100},
	}

	out := f.Filter([]domain.Sequence{seq}, f.DefaultParams())
	assert.Len(t, out, 1, "correlation applies to buy pairs only")
}
