// Package oracle provides market price lookup for the ledger engine:
// last-traded prices for live execution and historical closes for
// retroactive square-off settlement.
//
// Implementations include an HTTP quote-vendor client (production), a
// Redis read-through cache wrapper, and a static in-memory table (for
// development and testing).
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// ErrPriceUnavailable is returned when no usable price exists for the
// requested symbol/time. Trades must fail on it — never fall back to a
// stale cached price for execution.
var ErrPriceUnavailable = errors.New("price unavailable")

// Quote is a last-traded-price observation.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Exchange  model.Exchange  `json:"exchange"`
	LastPrice decimal.Decimal `json:"last_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Oracle is the price lookup contract consumed by the settlement engine
// and the square-off reconciler.
type Oracle interface {
	// LivePrice returns the last traded price for symbol on exchange.
	LivePrice(ctx context.Context, symbol string, exchange model.Exchange) (Quote, error)

	// HistoricalClose returns the closing price of the candle at the
	// given instant (e.g. 15:30 IST on a past trading day).
	HistoricalClose(ctx context.Context, symbol string, exchange model.Exchange, at time.Time) (decimal.Decimal, error)
}
