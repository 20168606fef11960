package trade

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/market"
	"github.com/papertrade/ledger-engine/internal/model"
)

// Validator runs pre-flight checks on trade requests. Shape and session
// checks happen before any store or oracle access (Screen); funds and
// holdings checks run inside the settlement transaction against
// row-locked state, so a concurrent trade cannot invalidate them.
type Validator struct {
	cal *market.Calendar
}

// NewValidator creates a validator bound to the exchange calendar.
func NewValidator(cal *market.Calendar) *Validator {
	return &Validator{cal: cal}
}

// Result is the structured outcome of validation. Callers must not
// proceed when Valid is false. Warnings accompany accepted orders.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Screen validates request shape and the market session. It performs no
// I/O and mutates nothing.
//
// A closed market is a warning, not a rejection: the order is accepted
// and executes at the next available price.
func (v *Validator) Screen(req Request, now time.Time) Result {
	var res Result

	if req.UserID == "" {
		res.Errors = append(res.Errors, "user_id is required")
	}
	if req.Symbol == "" {
		res.Errors = append(res.Errors, "symbol is required")
	}
	if !req.Exchange.Valid() {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown exchange %q", req.Exchange))
	}
	if !req.MarginClass.Valid() {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown margin class %q", req.MarginClass))
	}
	if !req.Side.Valid() {
		res.Errors = append(res.Errors, fmt.Sprintf("side must be %s or %s", model.Buy, model.Sell))
	}
	if !req.OrderType.Valid() {
		res.Errors = append(res.Errors, fmt.Sprintf("order type must be %s or %s", model.Market, model.Limit))
	}
	if req.Quantity <= 0 {
		res.Errors = append(res.Errors, "quantity must be positive")
	}
	if req.OrderType == model.Limit {
		if req.LimitPrice == nil {
			res.Errors = append(res.Errors, "limit price required for limit orders")
		} else if !req.LimitPrice.IsPositive() {
			res.Errors = append(res.Errors, "limit price must be positive")
		}
	}
	if req.OrderType == model.Market && req.LimitPrice != nil {
		res.Errors = append(res.Errors, "limit price not allowed for market orders")
	}

	if len(res.Errors) == 0 && !v.cal.IsOpen(now) {
		res.Warnings = append(res.Warnings,
			"market is closed; order will execute at the next available price")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// CheckFunds rejects a buy whose debit exceeds the wallet's cash. Must
// be called on a wallet loaded FOR UPDATE in the settlement scope.
func (v *Validator) CheckFunds(w *model.Wallet, debit decimal.Decimal) error {
	if w.VirtualCash.LessThan(debit) {
		return fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientFunds, debit.StringFixed(2), w.VirtualCash.StringFixed(2))
	}
	return nil
}

// CheckHoldings rejects a sell without a matching position or beyond
// the held quantity.
func (v *Validator) CheckHoldings(pos *model.Position, quantity int64) error {
	if pos == nil {
		return fmt.Errorf("%w: no open position", ErrInsufficientHoldings)
	}
	if quantity > pos.Quantity {
		return fmt.Errorf("%w: selling %d, holding %d",
			ErrInsufficientHoldings, quantity, pos.Quantity)
	}
	return nil
}
