package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// FrequencyService enforces a per-symbol cooldown between executed trades
// so the loop cannot churn one name while the broker state settles.
type FrequencyService struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	log  zerolog.Logger
}

// NewFrequencyService creates a frequency gate with the given cooldown.
func NewFrequencyService(cooldown time.Duration, log zerolog.Logger) *FrequencyService {
	return &FrequencyService{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		log:      log.With().Str("service", "trade_frequency").Logger(),
	}
}

// CanExecuteTrade reports whether the symbol is outside its cooldown.
func (s *FrequencyService) CanExecuteTrade(_ context.Context, symbol string, _ domain.TradeSide) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[symbol]
	if !ok {
		return true
	}
	return time.Since(last) >= s.cooldown
}

// RecordExecution marks a trade as just executed for the symbol.
func (s *FrequencyService) RecordExecution(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[symbol] = time.Now()
}
