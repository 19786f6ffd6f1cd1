package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/helmsman/internal/domain"
)

func TestPortfolioHashIsOrderIndependent(t *testing.T) {
	a := PortfolioHash(
		[]domain.Position{{Symbol: "AAA", Quantity: 10}, {Symbol: "BBB", Quantity: 5}},
		[]string{"AAA", "BBB", "CCC"}, nil)
	b := PortfolioHash(
		[]domain.Position{{Symbol: "BBB", Quantity: 5}, {Symbol: "AAA", Quantity: 10}},
		[]string{"CCC", "BBB", "AAA"}, nil)
	assert.Equal(t, a, b)
}

func TestPortfolioHashChangesWithQuantity(t *testing.T) {
	a := PortfolioHash([]domain.Position{{Symbol: "AAA", Quantity: 10}}, []string{"AAA"}, nil)
	b := PortfolioHash([]domain.Position{{Symbol: "AAA", Quantity: 11}}, []string{"AAA"}, nil)
	assert.NotEqual(t, a, b)
}

func TestPortfolioHashIgnoresZeroQuantityRows(t *testing.T) {
	a := PortfolioHash([]domain.Position{{Symbol: "AAA", Quantity: 10}, {Symbol: "GONE", Quantity: 0}},
		[]string{"AAA"}, nil)
	b := PortfolioHash([]domain.Position{{Symbol: "AAA", Quantity: 10}}, []string{"AAA"}, nil)
	assert.Equal(t, a, b)
}

func TestPortfolioHashIncludesCashWhenProvided(t *testing.T) {
	a := PortfolioHash(nil, []string{"AAA"}, map[string]float64{"EUR": 100})
	b := PortfolioHash(nil, []string{"AAA"}, map[string]float64{"EUR": 200})
	c := PortfolioHash(nil, []string{"AAA"}, nil)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSequenceHashDependsOnOrder(t *testing.T) {
	buy := domain.ActionCandidate{Side: domain.SideBuy, Symbol: "AAA", Quantity: 1, Price: 10}
	sell := domain.ActionCandidate{Side: domain.SideSell, Symbol: "BBB", Quantity: 2, Price: 20}

	assert.NotEqual(t,
		SequenceHash(domain.Sequence{sell, buy}),
		SequenceHash(domain.Sequence{buy, sell}))
	assert.Equal(t,
		SequenceHash(domain.Sequence{sell, buy}),
		SequenceHash(domain.Sequence{sell, buy}))
}
