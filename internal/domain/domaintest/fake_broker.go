// Package domaintest provides in-memory fakes of the external interfaces
// for use in package tests.
package domaintest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/helmsman/internal/domain"
)

// PlacedOrder records one PlaceOrder call.
type PlacedOrder struct {
	Symbol   string
	Side     domain.TradeSide
	Quantity float64
}

// FakeBroker is a configurable in-memory domain.Broker.
type FakeBroker struct {
	mu sync.Mutex

	Connected bool
	Balances  []domain.CashBalance
	Positions []domain.Position
	Quotes    map[string]domain.Quote
	Markets   []domain.MarketStatus
	Infos     map[string]domain.SecurityInfo
	Trades    []domain.Trade
	Flows     []domain.CashFlow
	Bars      map[string][]domain.PriceBar

	// OrderErr fails PlaceOrder when set; OrderStatus overrides the
	// returned status ("success" by default).
	OrderErr    error
	OrderStatus string
	Orders      []PlacedOrder

	// OnPlaceOrder, when set, runs on every order (e.g. to mutate balances).
	OnPlaceOrder func(o PlacedOrder)
}

// NewFakeBroker returns a connected fake with empty state.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{
		Connected: true,
		Quotes:    make(map[string]domain.Quote),
		Infos:     make(map[string]domain.SecurityInfo),
		Bars:      make(map[string][]domain.PriceBar),
	}
}

func (b *FakeBroker) IsConnected() bool { return b.Connected }

func (b *FakeBroker) Connect(context.Context) (bool, error) {
	b.Connected = true
	return true, nil
}

func (b *FakeBroker) GetCashBalances(context.Context) ([]domain.CashBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.CashBalance, len(b.Balances))
	copy(out, b.Balances)
	return out, nil
}

func (b *FakeBroker) GetTotalCashEUR(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for _, bal := range b.Balances {
		if bal.Currency == "EUR" {
			total += bal.Amount
		}
	}
	return total, nil
}

func (b *FakeBroker) GetPositions(context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, len(b.Positions))
	copy(out, b.Positions)
	return out, nil
}

func (b *FakeBroker) GetQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.Quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &q, nil
}

func (b *FakeBroker) GetQuotes(_ context.Context, symbols []string) (map[string]domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]domain.Quote)
	for _, s := range symbols {
		if q, ok := b.Quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (b *FakeBroker) GetHistoricalPrices(_ context.Context, symbol, _, _ string) ([]domain.PriceBar, error) {
	return b.Bars[symbol], nil
}

func (b *FakeBroker) GetHistoricalPricesBulk(_ context.Context, symbols []string, _ int) (map[string][]domain.PriceBar, error) {
	out := make(map[string][]domain.PriceBar)
	for _, s := range symbols {
		out[s] = b.Bars[s]
	}
	return out, nil
}

func (b *FakeBroker) GetSecurityInfo(_ context.Context, symbol string) (*domain.SecurityInfo, error) {
	info, ok := b.Infos[symbol]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &info, nil
}

func (b *FakeBroker) FindSymbol(_ context.Context, query string) ([]domain.SecurityInfo, error) {
	var out []domain.SecurityInfo
	for _, info := range b.Infos {
		if info.Symbol == query || info.ISIN == query {
			out = append(out, info)
		}
	}
	return out, nil
}

func (b *FakeBroker) GetMarketStatus(context.Context) ([]domain.MarketStatus, error) {
	return b.Markets, nil
}

func (b *FakeBroker) GetTradesHistory(context.Context, string) ([]domain.Trade, error) {
	return b.Trades, nil
}

func (b *FakeBroker) GetCashFlows(context.Context, string) ([]domain.CashFlow, error) {
	return b.Flows, nil
}

func (b *FakeBroker) PlaceOrder(_ context.Context, symbol string, side domain.TradeSide, quantity float64) (*domain.OrderResult, error) {
	if b.OrderErr != nil {
		return nil, b.OrderErr
	}
	order := PlacedOrder{Symbol: symbol, Side: side, Quantity: quantity}
	b.mu.Lock()
	b.Orders = append(b.Orders, order)
	n := len(b.Orders)
	b.mu.Unlock()
	if b.OnPlaceOrder != nil {
		b.OnPlaceOrder(order)
	}
	status := b.OrderStatus
	if status == "" {
		status = "success"
	}
	return &domain.OrderResult{OrderID: fmt.Sprintf("order-%d", n), Status: status}, nil
}
