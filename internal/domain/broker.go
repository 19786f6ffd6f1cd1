package domain

import "context"

// MarketStatus is one market's state from the broker's market-status feed.
type MarketStatus struct {
	ID     string // Broker market id ("i")
	Name   string // Market name ("n2")
	Status string // "OPEN", "CLOSED", ...
}

// SecurityInfo is the broker's metadata for one instrument.
type SecurityInfo struct {
	Symbol   string
	Name     string
	ISIN     string
	Lot      int
	Currency string
	MarketID string
}

// Broker is the narrow capability interface the core consumes. The wire
// format behind it is an adapter concern; the core never sees raw payloads.
type Broker interface {
	IsConnected() bool
	Connect(ctx context.Context) (bool, error)

	GetCashBalances(ctx context.Context) ([]CashBalance, error)
	GetTotalCashEUR(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]Position, error)

	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)

	GetHistoricalPrices(ctx context.Context, symbol, start, end string) ([]PriceBar, error)
	GetHistoricalPricesBulk(ctx context.Context, symbols []string, years int) (map[string][]PriceBar, error)

	GetSecurityInfo(ctx context.Context, symbol string) (*SecurityInfo, error)
	FindSymbol(ctx context.Context, query string) ([]SecurityInfo, error)

	GetMarketStatus(ctx context.Context) ([]MarketStatus, error)

	GetTradesHistory(ctx context.Context, startDate string) ([]Trade, error)
	GetCashFlows(ctx context.Context, startDate string) ([]CashFlow, error)

	PlaceOrder(ctx context.Context, symbol string, side TradeSide, quantity float64) (*OrderResult, error)
}

// PriceProvider is the pluggable historical-price and fundamentals source.
type PriceProvider interface {
	GetHistoricalPrices(ctx context.Context, symbol, yahooSymbol, period string) ([]PriceBar, error)
	GetFundamentals(ctx context.Context, yahooSymbol string) (map[string]float64, error)
}
