package trade

import (
	"errors"
	"strings"
)

var (
	// ErrInsufficientFunds rejects a buy whose debit exceeds available
	// cash. No state is mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientHoldings rejects a sell beyond the held quantity.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// ValidationError carries the validator's structured rejection. The
// request never reached the store.
type ValidationError struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}
