package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
)

const (
	// Vendor quote APIs rate-limit aggressively; stay well under.
	quoteRatePerSec  = 8
	candleRatePerSec = 2

	maxRetries    = 2
	baseRetryWait = 300 * time.Millisecond
)

// Client is an HTTP price-vendor client with per-endpoint rate limiting
// and bounded retries. Vendor API shape:
//
//	GET {base}/quote?symbol=X&exchange=NSE
//	    → {"symbol":..., "last_price":"123.45", "timestamp":...}
//	GET {base}/candles?symbol=X&exchange=NSE&at=RFC3339
//	    → {"close":"123.45"}
type Client struct {
	http          *http.Client
	base          string
	quoteLimiter  *rate.Limiter
	candleLimiter *rate.Limiter
}

// NewClient creates a Client for the given vendor base URL.
func NewClient(base string) *Client {
	return &Client{
		http:          &http.Client{Timeout: 5 * time.Second},
		base:          base,
		quoteLimiter:  rate.NewLimiter(quoteRatePerSec, 4),
		candleLimiter: rate.NewLimiter(candleRatePerSec, 1),
	}
}

type quoteResponse struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"last_price"`
	Timestamp int64  `json:"timestamp"`
}

type candleResponse struct {
	Close string `json:"close"`
}

// LivePrice fetches the last traded price. Any vendor failure maps to
// ErrPriceUnavailable so callers can abandon the trade cleanly.
func (c *Client) LivePrice(ctx context.Context, symbol string, exchange model.Exchange) (Quote, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s&exchange=%s",
		c.base, url.QueryEscape(symbol), url.QueryEscape(string(exchange)))

	var resp quoteResponse
	if err := c.get(ctx, c.quoteLimiter, u, &resp); err != nil {
		metrics.OracleRequests.WithLabelValues("quote", "error").Inc()
		return Quote{}, fmt.Errorf("%w: live %s/%s: %v", ErrPriceUnavailable, exchange, symbol, err)
	}
	metrics.OracleRequests.WithLabelValues("quote", "ok").Inc()

	price, err := decimal.NewFromString(resp.LastPrice)
	if err != nil || !price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: live %s/%s: bad price %q", ErrPriceUnavailable, exchange, symbol, resp.LastPrice)
	}

	return Quote{
		Symbol:    symbol,
		Exchange:  exchange,
		LastPrice: price,
		Timestamp: time.Unix(resp.Timestamp, 0).UTC(),
	}, nil
}

// HistoricalClose fetches the close of the candle at the given instant.
func (c *Client) HistoricalClose(ctx context.Context, symbol string, exchange model.Exchange, at time.Time) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/candles?symbol=%s&exchange=%s&at=%s",
		c.base, url.QueryEscape(symbol), url.QueryEscape(string(exchange)),
		url.QueryEscape(at.Format(time.RFC3339)))

	var resp candleResponse
	if err := c.get(ctx, c.candleLimiter, u, &resp); err != nil {
		metrics.OracleRequests.WithLabelValues("candle", "error").Inc()
		return decimal.Decimal{}, fmt.Errorf("%w: historical %s/%s@%s: %v",
			ErrPriceUnavailable, exchange, symbol, at.Format(time.RFC3339), err)
	}
	metrics.OracleRequests.WithLabelValues("candle", "ok").Inc()

	price, err := decimal.NewFromString(resp.Close)
	if err != nil || !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: historical %s/%s: bad close %q",
			ErrPriceUnavailable, exchange, symbol, resp.Close)
	}
	return price, nil
}

// get performs a rate-limited GET with bounded retry on 429/5xx.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, u string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("vendor status %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("vendor status %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep waits with exponential backoff, respecting ctx cancellation.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
