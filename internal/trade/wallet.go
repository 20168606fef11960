package trade

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// Wallet accountant: the only code that moves wallet cash or margin.
// Every function operates on a wallet row loaded FOR UPDATE inside the
// settlement transaction, so the balance it checks is the balance it
// mutates.

// debitWallet removes cash. The only business-failable path: a debit
// that would take virtual cash negative is rejected before any write.
func debitWallet(w *model.Wallet, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("wallet contract violation: negative debit %s", amount)
	}
	if w.VirtualCash.LessThan(amount) {
		return fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientFunds, amount.StringFixed(2), w.VirtualCash.StringFixed(2))
	}
	w.VirtualCash = w.VirtualCash.Sub(amount)
	return nil
}

// creditWallet adds cash.
func creditWallet(w *model.Wallet, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("wallet contract violation: negative credit %s", amount)
	}
	w.VirtualCash = w.VirtualCash.Add(amount)
	return nil
}

// settleCash applies a signed cash movement: positive credits, negative
// debits (and may therefore fail on insufficient funds).
func settleCash(w *model.Wallet, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return debitWallet(w, amount.Neg())
	}
	return creditWallet(w, amount)
}

// lockMargin records margin taken for an opening intraday trade.
func lockMargin(w *model.Wallet, amount decimal.Decimal) {
	w.MISMarginUsed = w.MISMarginUsed.Add(amount)
}

// releaseMargin returns margin recorded by lockMargin. Callers pass the
// amount originally locked, never a recomputed one — margin is invariant
// to price movement between open and close.
func releaseMargin(w *model.Wallet, amount decimal.Decimal) error {
	if amount.GreaterThan(w.MISMarginUsed) {
		return fmt.Errorf("wallet contract violation: releasing %s with %s locked",
			amount, w.MISMarginUsed)
	}
	w.MISMarginUsed = w.MISMarginUsed.Sub(amount)
	return nil
}
