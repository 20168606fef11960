// Package trade implements the trade settlement core: validation,
// pricing, charge computation, and the atomic wallet/position/transaction
// mutation for every buy and sell — including the forced square-off
// primitive replayed by the reconciler.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/charges"
	"github.com/papertrade/ledger-engine/internal/market"
	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/oracle"
	"github.com/papertrade/ledger-engine/internal/store"
)

// Request is one buy or sell order.
type Request struct {
	UserID      string
	Symbol      string
	Exchange    model.Exchange
	MarginClass model.MarginClass
	Side        model.Side
	Quantity    int64
	OrderType   model.OrderType
	LimitPrice  *decimal.Decimal
}

// ExecuteResult is the settled transaction plus any advisory warnings
// raised during validation (e.g. market closed).
type ExecuteResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// Engine orchestrates a single trade into one atomic ledger mutation.
// Stateless: safe for concurrent use; serialization of conflicting
// settlements is delegated to the store's row locks.
type Engine struct {
	store     store.Store
	oracle    oracle.Oracle
	validator *Validator
	cal       *market.Calendar
	hub       *WSHub // optional; nil disables broadcasting
}

// NewEngine creates a settlement engine. Pass nil for hub if trade
// broadcasting is not needed.
func NewEngine(st store.Store, orc oracle.Oracle, cal *market.Calendar, hub *WSHub) *Engine {
	return &Engine{
		store:     st,
		oracle:    orc,
		validator: NewValidator(cal),
		cal:       cal,
		hub:       hub,
	}
}

// Execute settles one buy or sell. The caller either sees the trade
// fully reflected in wallet + position + transaction, or not at all.
func (e *Engine) Execute(ctx context.Context, req Request) (*ExecuteResult, error) {
	start := time.Now()
	now := start.UTC()

	res := e.validator.Screen(req, now)
	if !res.Valid {
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		return nil, &ValidationError{Errors: res.Errors, Warnings: res.Warnings}
	}

	price, err := e.resolvePrice(ctx, req)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("price_unavailable").Inc()
		return nil, err
	}

	breakdown := charges.Compute(req.Side, price, req.Quantity)

	var txn *model.Transaction
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		wallet, err := tx.WalletForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		pos, err := tx.PositionForUpdate(ctx, req.UserID, req.Symbol, req.Exchange, req.MarginClass)
		if err != nil {
			return err
		}

		if req.Side == model.Buy {
			txn, err = e.settleBuy(ctx, tx, wallet, pos, req, price, breakdown, now)
		} else {
			txn, err = e.settleSell(ctx, tx, wallet, pos, req.Quantity, price, breakdown, now, nil)
		}
		return err
	})
	if err != nil {
		switch {
		case isBusinessRejection(err):
			metrics.TradeRejections.WithLabelValues("business").Inc()
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(req.Side), string(req.MarginClass)).Inc()
	metrics.SettlementLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())

	slog.Info("trade settled",
		"txn_id", txn.ID,
		"user", req.UserID,
		"symbol", req.Symbol,
		"side", req.Side,
		"margin_class", req.MarginClass,
		"qty", req.Quantity,
		"price", price.String(),
		"net", txn.NetAmount.String(),
	)

	e.broadcast(txn)
	return &ExecuteResult{Transaction: txn, Warnings: res.Warnings}, nil
}

// SquareOff force-sells one stale intraday position at the historical
// price that applied at its mandated close. Returns (nil, nil) when the
// position no longer exists — it was already closed, so the call is a
// no-op rather than an error.
func (e *Engine) SquareOff(ctx context.Context, p model.Position, histPrice decimal.Decimal, scheduledAt time.Time) (*model.Transaction, error) {
	now := time.Now().UTC()

	var txn *model.Transaction
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		wallet, err := tx.WalletForUpdate(ctx, p.UserID)
		if err != nil {
			return err
		}
		// Re-load under lock: a live sell may have raced us.
		pos, err := tx.PositionForUpdate(ctx, p.UserID, p.Symbol, p.Exchange, p.MarginClass)
		if err != nil {
			return err
		}
		if pos == nil {
			return nil
		}
		// The snapshot may have been fully closed and the same key
		// re-opened by a live trade since the stale scan. A position that
		// is not the one we scanned, or that is no longer stale, must not
		// be sold at an old close price.
		if pos.ID != p.ID || !pos.TradeDate.Before(e.cal.TradingDay(now)) {
			return nil
		}

		breakdown := charges.Compute(model.Sell, histPrice, pos.Quantity)
		txn, err = e.settleSell(ctx, tx, wallet, pos, pos.Quantity, histPrice, breakdown, now, &scheduledAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, nil
	}

	slog.Info("position squared off",
		"txn_id", txn.ID,
		"user", p.UserID,
		"symbol", p.Symbol,
		"qty", txn.Quantity,
		"exit_price", histPrice.String(),
		"scheduled_at", scheduledAt,
	)
	e.broadcast(txn)
	return txn, nil
}

// resolvePrice returns the execution price: the oracle's live price for
// market orders (the trade fails if it is unavailable — no fallback to a
// stale cache), or the supplied price for limit orders.
func (e *Engine) resolvePrice(ctx context.Context, req Request) (decimal.Decimal, error) {
	if req.OrderType == model.Limit {
		return *req.LimitPrice, nil
	}
	quote, err := e.oracle.LivePrice(ctx, req.Symbol, req.Exchange)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return quote.LastPrice, nil
}

// settleBuy debits the wallet, folds the buy into the position book, and
// appends the transaction — all through the caller's atomic scope.
//
// Delivery buys debit the full net amount. Intraday buys debit 25%
// margin plus charges and lock the margin; the locked amount rides on
// the position so closing releases exactly what was taken.
func (e *Engine) settleBuy(ctx context.Context, tx store.Tx, wallet *model.Wallet, pos *model.Position, req Request, price decimal.Decimal, b charges.Breakdown, now time.Time) (*model.Transaction, error) {
	debit := b.NetAmount
	marginLocked := decimal.Zero
	if req.MarginClass == model.Intraday {
		marginLocked = charges.Margin(b.TotalAmount)
		debit = marginLocked.Add(b.TotalCharges)
	}

	if err := e.validator.CheckFunds(wallet, debit); err != nil {
		return nil, err
	}
	if err := debitWallet(wallet, debit); err != nil {
		return nil, err
	}
	if marginLocked.IsPositive() {
		lockMargin(wallet, marginLocked)
	}
	if err := tx.SaveWallet(ctx, wallet); err != nil {
		return nil, err
	}

	pos = applyBuy(pos, req, price, marginLocked, e.cal.TradingDay(now), now)
	if err := tx.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	txn := e.newTransaction(req.UserID, req.Symbol, req.Exchange, req.MarginClass, model.Buy,
		req.Quantity, price, b, debit, wallet.VirtualCash, now)
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// settleSell decrements the position, releases margin, credits the
// wallet, and appends the transaction. scheduledAt is non-nil only for
// forced square-offs, which flag the transaction accordingly.
//
// Delivery sells credit the net proceeds. Intraday sells credit the
// released margin plus realized P&L net of charges, keeping cash
// conserved against the margin-only debit taken at open.
func (e *Engine) settleSell(ctx context.Context, tx store.Tx, wallet *model.Wallet, pos *model.Position, quantity int64, price decimal.Decimal, b charges.Breakdown, now time.Time, scheduledAt *time.Time) (*model.Transaction, error) {
	if err := e.validator.CheckHoldings(pos, quantity); err != nil {
		return nil, err
	}

	release := marginToRelease(pos, quantity)
	credit := b.NetAmount
	if pos.MarginClass == model.Intraday {
		soldBasis := pos.AveragePrice.Mul(decimal.NewFromInt(quantity))
		credit = release.Add(b.NetAmount.Sub(soldBasis))
	}

	if release.IsPositive() {
		if err := releaseMargin(wallet, release); err != nil {
			return nil, err
		}
		pos.MarginLocked = pos.MarginLocked.Sub(release)
	}
	if err := settleCash(wallet, credit); err != nil {
		return nil, err
	}
	if err := tx.SaveWallet(ctx, wallet); err != nil {
		return nil, err
	}

	closed, err := applySell(pos, quantity, now)
	if err != nil {
		return nil, err
	}
	if closed {
		if err := tx.DeletePosition(ctx, pos.ID); err != nil {
			return nil, err
		}
	} else if err := tx.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	txn := e.newTransaction(pos.UserID, pos.Symbol, pos.Exchange, pos.MarginClass, model.Sell,
		quantity, price, b, credit, wallet.VirtualCash, now)
	if scheduledAt != nil {
		txn.IsAutoSquareOff = true
		txn.ScheduledSquareOffTime = scheduledAt
		actual := now
		txn.ActualExecutionTime = &actual
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// newTransaction builds the immutable audit record. netAmount is the
// actual cash movement of this trade; balanceAfter is the wallet cash
// observed after applying it inside the same transaction.
func (e *Engine) newTransaction(userID, symbol string, ex model.Exchange, mc model.MarginClass, side model.Side, quantity int64, price decimal.Decimal, b charges.Breakdown, netAmount, balanceAfter decimal.Decimal, now time.Time) *model.Transaction {
	return &model.Transaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Symbol:       symbol,
		Exchange:     ex,
		MarginClass:  mc,
		Type:         side,
		Quantity:     quantity,
		Price:        price,
		TotalAmount:  b.TotalAmount,
		Brokerage:    b.Brokerage,
		Taxes:        b.Taxes,
		TotalCharges: b.TotalCharges,
		NetAmount:    netAmount,
		BalanceAfter: balanceAfter,
		Status:       model.StatusCompleted,
		ExecutedAt:   now,
	}
}

func (e *Engine) broadcast(txn *model.Transaction) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(TradeMessage{
		Type:          "trade_settled",
		Symbol:        txn.Symbol,
		Exchange:      string(txn.Exchange),
		MarginClass:   string(txn.MarginClass),
		Side:          string(txn.Type),
		Quantity:      txn.Quantity,
		Price:         txn.Price.String(),
		AutoSquareOff: txn.IsAutoSquareOff,
	})
}

func isBusinessRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInsufficientHoldings)
}
