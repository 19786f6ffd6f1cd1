// Package fxrates provides the historical exchange-rate fallback used
// when the broker cannot quote an FX pair. Rates are EUR-based and cached
// for a short window.
package fxrates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL serves daily EUR-based reference rates.
const DefaultBaseURL = "https://open.er-api.com/v6/latest/EUR"

// Client fetches and caches EUR-based reference rates.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu        sync.Mutex
	rates     map[string]float64 // currency -> units per 1 EUR
	fetchedAt time.Time
	ttl       time.Duration
}

// New creates a rate client. An empty baseURL uses the default provider.
func New(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "fxrates").Logger(),
		rates:   make(map[string]float64),
		ttl:     time.Hour,
	}
}

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func (c *Client) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rate fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rate fetch failed: status %d", resp.StatusCode)
	}

	var parsed ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("rate fetch failed: %w", err)
	}
	if len(parsed.Rates) == 0 {
		return fmt.Errorf("rate fetch returned no rates")
	}

	c.rates = parsed.Rates
	c.fetchedAt = time.Now()
	return nil
}

// RateToEUR returns how many EUR one unit of currency is worth, or an
// error when the provider does not know the currency.
func (c *Client) RateToEUR(ctx context.Context, currency string) (float64, error) {
	if currency == "EUR" {
		return 1.0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.fetchedAt) > c.ttl {
		if err := c.refresh(ctx); err != nil {
			if len(c.rates) == 0 {
				return 0, err
			}
			c.log.Warn().Err(err).Msg("Rate refresh failed, using cached rates")
		}
	}

	perEUR, ok := c.rates[currency]
	if !ok || perEUR <= 0 {
		return 0, fmt.Errorf("no reference rate for %s", currency)
	}
	return 1.0 / perEUR, nil
}

// Rate returns units of `to` per 1 `from`, routed through EUR.
func (c *Client) Rate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1.0, nil
	}
	fromEUR, err := c.RateToEUR(ctx, from)
	if err != nil {
		return 0, err
	}
	toEUR, err := c.RateToEUR(ctx, to)
	if err != nil {
		return 0, err
	}
	if toEUR <= 0 {
		return 0, fmt.Errorf("no reference rate for %s", to)
	}
	return fromEUR / toEUR, nil
}
