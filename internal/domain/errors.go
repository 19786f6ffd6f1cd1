package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound signals a missing aggregate (stock by symbol, sequence by
// hash). Callers decide the fallback.
var ErrNotFound = errors.New("not found")

// ValidationError reports invalid caller input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Message)
}

// InsufficientFundsError is raised when a buy exceeds available cash.
// Consumers convert it into "skip this candidate"; it is never fatal.
type InsufficientFundsError struct {
	NeededEUR    float64
	AvailableEUR float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %.2f EUR, have %.2f EUR", e.NeededEUR, e.AvailableEUR)
}

// InvalidTradeError is raised when a sell exceeds holdings. Consumers cap
// the quantity instead of failing.
type InvalidTradeError struct {
	Symbol    string
	Requested int
	Held      int
}

func (e *InvalidTradeError) Error() string {
	return fmt.Sprintf("invalid trade: sell %d %s exceeds held %d", e.Requested, e.Symbol, e.Held)
}

// CurrencyConversionError is raised when no conversion path or rate exists
// for a currency pair, after the historical-rate fallback was tried.
type CurrencyConversionError struct {
	From string
	To   string
}

func (e *CurrencyConversionError) Error() string {
	return fmt.Sprintf("no conversion path or rate from %s to %s", e.From, e.To)
}

// LockTimeoutError is raised when an advisory lock cannot be acquired
// within its timeout.
type LockTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire lock %q within %s; another operation may be in progress", e.Name, e.Timeout)
}

// BrokerError wraps a broker-side failure (connect, order, quote). The
// execution loop logs it, emits ERROR_OCCURRED, skips the cycle and sleeps.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }
