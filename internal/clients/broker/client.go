// Package broker implements the narrow broker capability interface over a
// Tradernet-style signed REST API. The rest of the system never sees this
// wire format; everything is mapped onto domain types here.
package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/helmsman/internal/domain"
)

// Client talks to the broker REST API. Calls are rate-limited so sync
// fan-out cannot trip the API's request budget.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger

	mu        sync.Mutex
	connected bool
}

// New creates a broker client.
func New(baseURL, apiKey, apiSecret string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(5), 10), // 5 req/s, burst 10
		log:       log.With().Str("client", "broker").Logger(),
	}
}

// IsConnected reports whether the last connect attempt succeeded.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect verifies credentials with a lightweight authenticated call.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return false, fmt.Errorf("broker credentials not configured")
	}
	var out struct {
		Currencies []rawBalance `json:"currencies"`
	}
	if err := c.call(ctx, "getPositionJson", nil, &out); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return true, nil
}

// call signs and posts one API command.
func (c *Client) call(ctx context.Context, command string, params map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"cmd":    command,
		"apiKey": c.apiKey,
		"nonce":  time.Now().UnixNano() / int64(time.Millisecond),
	}
	if len(params) > 0 {
		payload["params"] = params
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/cmd/"+command, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-NtApi-Sig", signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("broker request %s failed: %w", command, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker request %s failed: status %d", command, resp.StatusCode)
	}

	var envelope struct {
		Error  string          `json:"error,omitempty"`
		Result json.RawMessage `json:"result,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("broker response %s undecodable: %w", command, err)
	}
	if envelope.Error != "" {
		return fmt.Errorf("broker error on %s: %s", command, envelope.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// GetCashBalances returns all currency balances, negatives included.
func (c *Client) GetCashBalances(ctx context.Context) ([]domain.CashBalance, error) {
	var out struct {
		Currencies []rawBalance `json:"currencies"`
	}
	if err := c.call(ctx, "getPositionJson", nil, &out); err != nil {
		return nil, err
	}
	balances := make([]domain.CashBalance, 0, len(out.Currencies))
	for _, b := range out.Currencies {
		balances = append(balances, domain.CashBalance{
			Currency: strings.ToUpper(b.Currency),
			Amount:   b.Amount,
		})
	}
	return balances, nil
}

// GetTotalCashEUR returns the EUR cash balance.
func (c *Client) GetTotalCashEUR(ctx context.Context) (float64, error) {
	balances, err := c.GetCashBalances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Currency == "EUR" {
			return b.Amount, nil
		}
	}
	return 0, nil
}

// GetPositions returns current holdings.
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var out struct {
		Positions []rawPosition `json:"pos"`
	}
	if err := c.call(ctx, "getPositionJson", nil, &out); err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		if p.Quantity <= 0 {
			continue
		}
		positions = append(positions, p.toDomain())
	}
	return positions, nil
}

// GetQuote returns one quote, or domain.ErrNotFound when the symbol is
// unknown.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	quotes, err := c.GetQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &q, nil
}

// GetQuotes returns quotes keyed by symbol.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	var out struct {
		Quotes []rawQuote `json:"q"`
	}
	params := map[string]any{"tickers": strings.Join(symbols, ",")}
	if err := c.call(ctx, "getQuotesJson", params, &out); err != nil {
		return nil, err
	}
	quotes := make(map[string]domain.Quote, len(out.Quotes))
	for _, q := range out.Quotes {
		quotes[q.Symbol] = q.toDomain()
	}
	return quotes, nil
}

// GetHistoricalPrices returns daily bars for one symbol.
func (c *Client) GetHistoricalPrices(ctx context.Context, symbol, start, end string) ([]domain.PriceBar, error) {
	var out rawCandles
	params := map[string]any{
		"id":        symbol,
		"timeframe": 1440,
		"date_from": start,
		"date_to":   end,
	}
	if err := c.call(ctx, "getHloc", params, &out); err != nil {
		return nil, err
	}
	return out.toDomain(symbol), nil
}

// GetHistoricalPricesBulk fetches daily bars for many symbols.
func (c *Client) GetHistoricalPricesBulk(ctx context.Context, symbols []string, years int) (map[string][]domain.PriceBar, error) {
	start := time.Now().AddDate(-years, 0, 0).Format("02.01.2006")
	end := time.Now().Format("02.01.2006")

	out := make(map[string][]domain.PriceBar, len(symbols))
	for _, symbol := range symbols {
		bars, err := c.GetHistoricalPrices(ctx, symbol, start, end)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Historical price fetch failed")
			continue
		}
		out[symbol] = bars
	}
	return out, nil
}

// GetSecurityInfo returns instrument metadata for one symbol.
func (c *Client) GetSecurityInfo(ctx context.Context, symbol string) (*domain.SecurityInfo, error) {
	var out rawSecurityInfo
	if err := c.call(ctx, "getSecurityInfo", map[string]any{"ticker": symbol}, &out); err != nil {
		return nil, err
	}
	if out.Symbol == "" {
		return nil, domain.ErrNotFound
	}
	info := out.toDomain()
	return &info, nil
}

// FindSymbol searches instruments by free-text query.
func (c *Client) FindSymbol(ctx context.Context, query string) ([]domain.SecurityInfo, error) {
	var out struct {
		Found []rawSecurityInfo `json:"found"`
	}
	if err := c.call(ctx, "tickerFinder", map[string]any{"text": query}, &out); err != nil {
		return nil, err
	}
	infos := make([]domain.SecurityInfo, 0, len(out.Found))
	for _, raw := range out.Found {
		infos = append(infos, raw.toDomain())
	}
	return infos, nil
}

// GetMarketStatus returns every market's open/closed state.
func (c *Client) GetMarketStatus(ctx context.Context) ([]domain.MarketStatus, error) {
	var out struct {
		Markets []rawMarket `json:"m"`
	}
	if err := c.call(ctx, "getMarketStatus", map[string]any{"market": "*"}, &out); err != nil {
		return nil, err
	}
	statuses := make([]domain.MarketStatus, 0, len(out.Markets))
	for _, m := range out.Markets {
		statuses = append(statuses, domain.MarketStatus{
			ID:     fmt.Sprint(m.ID),
			Name:   m.Name,
			Status: strings.ToUpper(m.Status),
		})
	}
	return statuses, nil
}

// GetTradesHistory returns executed trades since startDate.
func (c *Client) GetTradesHistory(ctx context.Context, startDate string) ([]domain.Trade, error) {
	var out struct {
		Trades []rawTrade `json:"trades"`
	}
	if err := c.call(ctx, "getTradesHistory", map[string]any{"beginDate": startDate}, &out); err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, 0, len(out.Trades))
	for _, t := range out.Trades {
		trades = append(trades, t.toDomain())
	}
	return trades, nil
}

// GetCashFlows returns ledger entries since startDate.
func (c *Client) GetCashFlows(ctx context.Context, startDate string) ([]domain.CashFlow, error) {
	var out struct {
		Flows []rawCashFlow `json:"report"`
	}
	if err := c.call(ctx, "getBrokerReport", map[string]any{"dateFrom": startDate}, &out); err != nil {
		return nil, err
	}
	flows := make([]domain.CashFlow, 0, len(out.Flows))
	for _, f := range out.Flows {
		flows = append(flows, f.toDomain())
	}
	return flows, nil
}

// PlaceOrder submits one market order and returns the broker's order id.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.TradeSide, quantity float64) (*domain.OrderResult, error) {
	action := "B"
	if side == domain.SideSell {
		action = "S"
	}
	var out struct {
		OrderID int64 `json:"order_id"`
	}
	params := map[string]any{
		"instr_name": symbol,
		"action_id":  action,
		"order_type": "M",
		"qty":        quantity,
	}
	if err := c.call(ctx, "putTradeOrder", params, &out); err != nil {
		return nil, err
	}
	if out.OrderID == 0 {
		return &domain.OrderResult{Status: "skipped"}, nil
	}
	return &domain.OrderResult{OrderID: fmt.Sprint(out.OrderID), Status: "success"}, nil
}
