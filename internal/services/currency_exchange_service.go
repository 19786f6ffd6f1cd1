// Package services hosts the cross-module application services: currency
// exchange and the autonomous trade-execution loop.
package services

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// ConversionStep is one leg of a currency conversion path.
type ConversionStep struct {
	FromCurrency string
	ToCurrency   string
	Symbol       string
	Action       domain.TradeSide
}

// RateFallback supplies reference rates when the broker cannot quote a
// pair (units of `to` per 1 `from`).
type RateFallback interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// CurrencyExchangeService routes conversions through the broker's FX
// pairs. Direct pairs cover EUR/USD/GBP/HKD; GBP<->HKD routes via EUR.
// The service owns no state; its only side effect is a broker FX order.
type CurrencyExchangeService struct {
	broker   domain.Broker
	fallback RateFallback
	log      zerolog.Logger
}

type directPair struct {
	Symbol string
	Action domain.TradeSide
}

// directPairs maps "FROM:TO" to the FX instrument and the order side that
// performs the conversion.
var directPairs = map[string]directPair{
	// EUR <-> USD: selling EURUSD sells EUR for USD.
	"EUR:USD": {"EURUSD_T0.ITS", domain.SideSell},
	"USD:EUR": {"EURUSD_T0.ITS", domain.SideBuy},
	// EUR <-> GBP
	"EUR:GBP": {"EURGBP_T0.ITS", domain.SideSell},
	"GBP:EUR": {"EURGBP_T0.ITS", domain.SideBuy},
	// GBP <-> USD
	"GBP:USD": {"GBPUSD_T0.ITS", domain.SideSell},
	"USD:GBP": {"GBPUSD_T0.ITS", domain.SideBuy},
	// HKD <-> EUR
	"EUR:HKD": {"HKD/EUR", domain.SideBuy},
	"HKD:EUR": {"HKD/EUR", domain.SideSell},
	// HKD <-> USD
	"USD:HKD": {"HKD/USD", domain.SideBuy},
	"HKD:USD": {"HKD/USD", domain.SideSell},
}

// rateSymbols maps "BASE:QUOTE" to the instrument used for rate lookups.
var rateSymbols = map[string]string{
	"EUR:USD": "EURUSD_T0.ITS",
	"EUR:GBP": "EURGBP_T0.ITS",
	"GBP:USD": "GBPUSD_T0.ITS",
	"HKD:EUR": "HKD/EUR",
	"HKD:USD": "HKD/USD",
}

// NewCurrencyExchangeService creates a currency exchange service.
func NewCurrencyExchangeService(broker domain.Broker, fallback RateFallback, log zerolog.Logger) *CurrencyExchangeService {
	return &CurrencyExchangeService{
		broker:   broker,
		fallback: fallback,
		log:      log.With().Str("service", "currency_exchange").Logger(),
	}
}

// GetConversionPath returns the steps to convert between two currencies:
// empty for same currency, one step for a direct pair, two steps via EUR
// for GBP<->HKD. Unroutable pairs return CurrencyConversionError.
func (s *CurrencyExchangeService) GetConversionPath(fromCurrency, toCurrency string) ([]ConversionStep, error) {
	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(toCurrency)

	if from == to {
		return []ConversionStep{}, nil
	}

	if pair, ok := directPairs[from+":"+to]; ok {
		return []ConversionStep{{FromCurrency: from, ToCurrency: to, Symbol: pair.Symbol, Action: pair.Action}}, nil
	}

	// GBP <-> HKD has no direct instrument; route via EUR.
	if (from == "GBP" && to == "HKD") || (from == "HKD" && to == "GBP") {
		var steps []ConversionStep
		if pair, ok := directPairs[from+":EUR"]; ok {
			steps = append(steps, ConversionStep{FromCurrency: from, ToCurrency: "EUR", Symbol: pair.Symbol, Action: pair.Action})
		}
		if pair, ok := directPairs["EUR:"+to]; ok {
			steps = append(steps, ConversionStep{FromCurrency: "EUR", ToCurrency: to, Symbol: pair.Symbol, Action: pair.Action})
		}
		if len(steps) == 2 {
			return steps, nil
		}
	}

	return nil, &domain.CurrencyConversionError{From: from, To: to}
}

// GetRate returns units of `to` per 1 `from`. 1.0 for same currency; live
// broker quotes preferred, historical reference rates as fallback.
func (s *CurrencyExchangeService) GetRate(ctx context.Context, fromCurrency, toCurrency string) (float64, error) {
	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(toCurrency)

	if from == to {
		return 1.0, nil
	}

	if rate, ok := s.liveRate(ctx, from, to); ok {
		return rate, nil
	}

	if s.fallback != nil {
		rate, err := s.fallback.Rate(ctx, from, to)
		if err == nil && rate > 0 {
			return rate, nil
		}
	}
	return 0, &domain.CurrencyConversionError{From: from, To: to}
}

// liveRate tries the broker quote, direct or inverted, then a two-hop
// path product.
func (s *CurrencyExchangeService) liveRate(ctx context.Context, from, to string) (float64, bool) {
	if symbol, ok := rateSymbols[from+":"+to]; ok {
		if quote, err := s.broker.GetQuote(ctx, symbol); err == nil && quote.Price > 0 {
			return quote.Price, true
		}
		return 0, false
	}
	if symbol, ok := rateSymbols[to+":"+from]; ok {
		if quote, err := s.broker.GetQuote(ctx, symbol); err == nil && quote.Price > 0 {
			return 1.0 / quote.Price, true
		}
		return 0, false
	}

	path, err := s.GetConversionPath(from, to)
	if err != nil || len(path) != 2 {
		return 0, false
	}
	rate1, ok1 := s.liveRate(ctx, path[0].FromCurrency, path[0].ToCurrency)
	rate2, ok2 := s.liveRate(ctx, path[1].FromCurrency, path[1].ToCurrency)
	if ok1 && ok2 {
		return rate1 * rate2, true
	}
	return 0, false
}

// ToEUR converts an amount from its native currency to EUR.
func (s *CurrencyExchangeService) ToEUR(ctx context.Context, amount float64, currency string) (float64, error) {
	rate, err := s.GetRate(ctx, currency, "EUR")
	if err != nil {
		return 0, err
	}
	return amount * rate, nil
}

// Exchange converts `amount` of fromCurrency into toCurrency by placing
// one or two FX orders. The intermediate amount of a two-hop conversion is
// adjusted by the observed rate. Returns the last leg's order result.
func (s *CurrencyExchangeService) Exchange(ctx context.Context, fromCurrency, toCurrency string, amount float64) (*domain.OrderResult, error) {
	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(toCurrency)

	if from == to {
		return nil, &domain.ValidationError{Field: "currency", Message: "same-currency exchange requested"}
	}
	if amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !s.broker.IsConnected() {
		if ok, err := s.broker.Connect(ctx); err != nil || !ok {
			return nil, &domain.BrokerError{Op: "connect", Err: err}
		}
	}

	path, err := s.GetConversionPath(from, to)
	if err != nil {
		return nil, err
	}

	currentAmount := amount
	var lastResult *domain.OrderResult
	for _, step := range path {
		result, err := s.broker.PlaceOrder(ctx, step.Symbol, step.Action, currentAmount)
		if err != nil {
			return nil, &domain.BrokerError{Op: "fx_order", Err: err}
		}
		if rate, rerr := s.GetRate(ctx, step.FromCurrency, step.ToCurrency); rerr == nil {
			currentAmount *= rate
		}
		lastResult = result
	}
	return lastResult, nil
}

// EnsureBalance guarantees at least minAmount of currency, converting from
// sourceCurrency with a 2% buffer when short. Returns false — never
// worsening a deficit — when the source balance is negative or too small.
func (s *CurrencyExchangeService) EnsureBalance(ctx context.Context, currency string, minAmount float64, sourceCurrency string) (bool, error) {
	currency = strings.ToUpper(currency)
	if sourceCurrency == "" {
		sourceCurrency = "EUR"
	}
	sourceCurrency = strings.ToUpper(sourceCurrency)

	if currency == sourceCurrency {
		return true, nil
	}
	if !s.broker.IsConnected() {
		if ok, err := s.broker.Connect(ctx); err != nil || !ok {
			return false, &domain.BrokerError{Op: "connect", Err: err}
		}
	}

	balances, err := s.broker.GetCashBalances(ctx)
	if err != nil {
		return false, &domain.BrokerError{Op: "get_cash_balances", Err: err}
	}
	var currentBalance, sourceBalance float64
	for _, b := range balances {
		switch strings.ToUpper(b.Currency) {
		case currency:
			currentBalance = b.Amount
		case sourceCurrency:
			sourceBalance = b.Amount
		}
	}

	if sourceBalance < 0 {
		s.log.Error().Str("source", sourceCurrency).Float64("balance", sourceBalance).
			Msg("Cannot ensure balance: source currency is negative")
		return false, nil
	}
	if currentBalance >= minAmount {
		return true, nil
	}

	// A negative target balance is already priced into minAmount by the
	// balance-fix deficit computation; only positive balance offsets it.
	needed := (minAmount - math.Max(currentBalance, 0)) * 1.02
	rate, err := s.GetRate(ctx, sourceCurrency, currency)
	if err != nil {
		return false, err
	}
	sourceAmountNeeded := needed / rate
	if sourceBalance < sourceAmountNeeded {
		s.log.Warn().Str("source", sourceCurrency).
			Float64("need", sourceAmountNeeded).Float64("have", sourceBalance).
			Msg("Insufficient source currency for conversion")
		return false, nil
	}

	s.log.Info().Str("from", sourceCurrency).Str("to", currency).
		Float64("amount", sourceAmountNeeded).Msg("Converting to cover balance")
	result, err := s.Exchange(ctx, sourceCurrency, currency, sourceAmountNeeded)
	if err != nil {
		return false, err
	}
	return result != nil, nil
}
