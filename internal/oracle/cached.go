package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// Cached wraps a primary Oracle with a Redis read-through cache.
//
// Historical closes are immutable once the candle is final, so they cache
// with a long TTL. Live prices deliberately bypass the cache: execution
// must never use a stale quote. (Callers that only need display-grade
// prices can use LivePriceCached.)
type Cached struct {
	primary Oracle
	rdb     *redis.Client
	liveTTL time.Duration
	histTTL time.Duration
}

// NewCached creates a cached wrapper around a primary oracle.
func NewCached(primary Oracle, rdb *redis.Client) *Cached {
	return &Cached{
		primary: primary,
		rdb:     rdb,
		liveTTL: 5 * time.Second,
		histTTL: 7 * 24 * time.Hour,
	}
}

// LivePrice always asks the primary oracle, then refreshes the display
// cache on success.
func (c *Cached) LivePrice(ctx context.Context, symbol string, exchange model.Exchange) (Quote, error) {
	q, err := c.primary.LivePrice(ctx, symbol, exchange)
	if err != nil {
		return Quote{}, err
	}
	c.rdb.Set(ctx, liveKey(symbol, exchange), q.LastPrice.String(), c.liveTTL)
	return q, nil
}

// LivePriceCached returns a recent cached quote if one exists, falling
// back to the primary. Display/valuation use only.
func (c *Cached) LivePriceCached(ctx context.Context, symbol string, exchange model.Exchange) (Quote, error) {
	if s, err := c.rdb.Get(ctx, liveKey(symbol, exchange)).Result(); err == nil {
		if price, perr := decimal.NewFromString(s); perr == nil {
			return Quote{Symbol: symbol, Exchange: exchange, LastPrice: price}, nil
		}
	}
	return c.LivePrice(ctx, symbol, exchange)
}

// HistoricalClose checks Redis first; candle closes never change.
func (c *Cached) HistoricalClose(ctx context.Context, symbol string, exchange model.Exchange, at time.Time) (decimal.Decimal, error) {
	key := histKey(symbol, exchange, at)

	if s, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if price, perr := decimal.NewFromString(s); perr == nil {
			return price, nil
		}
	}

	price, err := c.primary.HistoricalClose(ctx, symbol, exchange, at)
	if err != nil {
		return decimal.Decimal{}, err
	}
	c.rdb.Set(ctx, key, price.String(), c.histTTL)
	return price, nil
}

func liveKey(symbol string, ex model.Exchange) string {
	return fmt.Sprintf("ltp:%s:%s", ex, symbol)
}

func histKey(symbol string, ex model.Exchange, at time.Time) string {
	return fmt.Sprintf("close:%s:%s:%d", ex, symbol, at.Unix())
}
