package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// Static is an in-memory price table. Used for development (no vendor
// configured) and testing. Not suitable for production.
type Static struct {
	mu     sync.RWMutex
	live   map[string]decimal.Decimal
	closes map[string]decimal.Decimal
}

// NewStatic creates an empty static oracle.
func NewStatic() *Static {
	return &Static{
		live:   make(map[string]decimal.Decimal),
		closes: make(map[string]decimal.Decimal),
	}
}

// SetLive sets the last traded price for symbol on exchange.
func (s *Static) SetLive(symbol string, exchange model.Exchange, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[liveKey(symbol, exchange)] = price
}

// UnsetLive removes the live price, making the symbol unavailable.
func (s *Static) UnsetLive(symbol string, exchange model.Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, liveKey(symbol, exchange))
}

// SetClose sets the historical close at the given instant.
func (s *Static) SetClose(symbol string, exchange model.Exchange, at time.Time, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes[histKey(symbol, exchange, at)] = price
}

func (s *Static) LivePrice(_ context.Context, symbol string, exchange model.Exchange) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.live[liveKey(symbol, exchange)]
	if !ok {
		return Quote{}, fmt.Errorf("%w: live %s/%s", ErrPriceUnavailable, exchange, symbol)
	}
	return Quote{Symbol: symbol, Exchange: exchange, LastPrice: price, Timestamp: time.Now().UTC()}, nil
}

func (s *Static) HistoricalClose(_ context.Context, symbol string, exchange model.Exchange, at time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.closes[histKey(symbol, exchange, at)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: historical %s/%s@%s",
			ErrPriceUnavailable, exchange, symbol, at.Format(time.RFC3339))
	}
	return price, nil
}
