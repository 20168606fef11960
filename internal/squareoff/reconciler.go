// Package squareoff closes stale intraday positions: any MIS position
// carried past its trading day is force-sold at the historical price of
// that day's mandated 15:30 IST square-off.
package squareoff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/papertrade/ledger-engine/internal/market"
	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/oracle"
	"github.com/papertrade/ledger-engine/internal/store"
	"github.com/papertrade/ledger-engine/internal/trade"
)

// Reconciler sweeps stale intraday positions and settles each through
// the engine's square-off primitive. Safe to run repeatedly: a closed
// position disappears from the stale set, so re-runs are no-ops.
type Reconciler struct {
	store   store.Store
	oracle  oracle.Oracle
	cal     *market.Calendar
	engine  *trade.Engine
	limiter *rate.Limiter
}

// NewReconciler creates a reconciler. The limiter throttles historical
// price lookups so a large sweep does not hammer the price vendor.
func NewReconciler(st store.Store, orc oracle.Oracle, cal *market.Calendar, engine *trade.Engine) *Reconciler {
	return &Reconciler{
		store:   st,
		oracle:  orc,
		cal:     cal,
		engine:  engine,
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
}

// ClosedPosition describes one position the sweep closed.
type ClosedPosition struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Symbol        string `json:"symbol"`
	Exchange      string `json:"exchange"`
	Quantity      int64  `json:"quantity"`
	ExitPrice     string `json:"exit_price"`
	TradeDate     string `json:"trade_date"`
}

// ItemError is a per-position failure. The sweep continues past it.
type ItemError struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// Result summarizes one reconciliation sweep.
type Result struct {
	ClosedCount  int              `json:"closed_count"`
	SkippedCount int              `json:"skipped_count,omitempty"`
	Positions    []ClosedPosition `json:"positions"`
	Errors       []ItemError      `json:"errors,omitempty"`
}

// Run sweeps stale intraday positions, for one user or (with empty
// userID) across all users. Per-item failures are collected, never
// fatal: one bad symbol must not strand everyone else's positions.
func (r *Reconciler) Run(ctx context.Context, userID string) (*Result, error) {
	today := r.cal.TradingDay(time.Now())

	stale, err := r.store.StaleIntradayPositions(ctx, userID, today)
	if err != nil {
		return nil, fmt.Errorf("loading stale positions: %w", err)
	}

	result := &Result{Positions: []ClosedPosition{}}
	for _, pos := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		// Positions dated on a weekend or holiday should not exist; skip
		// rather than chase a close price that was never printed.
		if !r.cal.IsTradingDay(pos.TradeDate) {
			result.SkippedCount++
			slog.Warn("skipping position with non-trading trade date",
				"user", pos.UserID, "symbol", pos.Symbol,
				"trade_date", pos.TradeDate.Format("2006-01-02"))
			continue
		}
		closed, err := r.closeOne(ctx, pos)
		if err != nil {
			metrics.SquareOffErrors.Inc()
			slog.Error("square-off failed",
				"user", pos.UserID, "symbol", pos.Symbol, "trade_date", pos.TradeDate, "err", err)
			result.Errors = append(result.Errors, ItemError{
				UserID: pos.UserID,
				Symbol: pos.Symbol,
				Error:  err.Error(),
			})
			continue
		}
		if closed != nil {
			metrics.SquareOffsClosed.Inc()
			result.ClosedCount++
			result.Positions = append(result.Positions, *closed)
		}
	}

	slog.Info("square-off sweep finished",
		"stale", len(stale), "closed", result.ClosedCount,
		"skipped", result.SkippedCount, "errors", len(result.Errors))
	return result, nil
}

// closeOne settles a single stale position at its trade date's 15:30 IST
// close. Returns (nil, nil) when the position was already gone.
func (r *Reconciler) closeOne(ctx context.Context, pos model.Position) (*ClosedPosition, error) {
	squareOffAt := r.cal.SquareOffAt(pos.TradeDate)

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	price, err := r.oracle.HistoricalClose(ctx, pos.Symbol, pos.Exchange, squareOffAt)
	if err != nil {
		return nil, fmt.Errorf("historical close for %s at %s: %w", pos.Symbol, squareOffAt, err)
	}

	txn, err := r.engine.SquareOff(ctx, pos, price, squareOffAt)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, nil
	}

	return &ClosedPosition{
		TransactionID: txn.ID,
		UserID:        pos.UserID,
		Symbol:        pos.Symbol,
		Exchange:      string(pos.Exchange),
		Quantity:      txn.Quantity,
		ExitPrice:     price.String(),
		TradeDate:     pos.TradeDate.Format("2006-01-02"),
	}, nil
}
