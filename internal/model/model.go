// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarginClass selects the funding regime of a position.
type MarginClass string

const (
	// Delivery (CNC) positions are fully funded and may be held indefinitely.
	Delivery MarginClass = "DELIVERY"
	// Intraday (MIS) positions are opened on 25% margin and must be closed
	// by the end of the trading day they were opened on.
	Intraday MarginClass = "INTRADAY"
)

// Valid reports whether m is a known margin class.
func (m MarginClass) Valid() bool { return m == Delivery || m == Intraday }

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// OrderType selects how the execution price is resolved.
type OrderType string

const (
	// Market orders execute at the oracle's last traded price.
	Market OrderType = "MARKET"
	// Limit orders execute at the caller-supplied price.
	Limit OrderType = "LIMIT"
)

// Valid reports whether o is a known order type.
func (o OrderType) Valid() bool { return o == Market || o == Limit }

// Exchange identifies the listing venue of a symbol.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// Valid reports whether e is a known exchange.
func (e Exchange) Valid() bool { return e == NSE || e == BSE }

// MarginRatio is the fraction of notional locked to open an intraday
// position (25% margin, 4x leverage).
var MarginRatio = decimal.New(25, -2)

// Wallet holds a user's virtual cash and portfolio aggregates.
// Mutated only inside a settlement or reconciliation transaction.
type Wallet struct {
	UserID            string          `json:"user_id" db:"user_id"`
	VirtualCash       decimal.Decimal `json:"virtual_cash" db:"virtual_cash"`
	TotalInvested     decimal.Decimal `json:"total_invested" db:"total_invested"`
	CurrentValue      decimal.Decimal `json:"current_value" db:"current_value"`
	TotalPnL          decimal.Decimal `json:"total_pnl" db:"total_pnl"`
	TotalPnLPercent   decimal.Decimal `json:"total_pnl_percent" db:"total_pnl_percent"`
	DayPnL            decimal.Decimal `json:"day_pnl" db:"day_pnl"`
	MISMarginUsed     decimal.Decimal `json:"mis_margin_used" db:"mis_margin_used"`
	MISPositionsValue decimal.Decimal `json:"mis_positions_value" db:"mis_positions_value"`
	MISPnL            decimal.Decimal `json:"mis_pnl" db:"mis_pnl"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is a user's holding in one symbol under one margin class.
// Deleted when quantity reaches zero.
type Position struct {
	ID          string      `json:"id" db:"id"`
	UserID      string      `json:"user_id" db:"user_id"`
	Symbol      string      `json:"symbol" db:"symbol"`
	Exchange    Exchange    `json:"exchange" db:"exchange"`
	MarginClass MarginClass `json:"margin_class" db:"margin_class"`

	Quantity      int64           `json:"quantity" db:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price" db:"average_price"`
	TotalInvested decimal.Decimal `json:"total_invested" db:"total_invested"`
	// MarginLocked is the exact amount held as margin for this position
	// (intraday only). Released verbatim on close — never recomputed.
	MarginLocked decimal.Decimal `json:"margin_locked" db:"margin_locked"`

	// Derived valuation fields, refreshed opportunistically on reads.
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value" db:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`

	// TradeDate anchors the intraday square-off deadline: the trading day
	// the position was opened (or re-opened after a full close).
	TradeDate time.Time `json:"trade_date" db:"trade_date"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TransactionStatus is the terminal state of a transaction record.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "COMPLETED"
)

// Transaction is an immutable record of one settled trade.
// Once appended, these are never modified or deleted.
type Transaction struct {
	ID          string      `json:"id" db:"id"`
	UserID      string      `json:"user_id" db:"user_id"`
	Symbol      string      `json:"symbol" db:"symbol"`
	Exchange    Exchange    `json:"exchange" db:"exchange"`
	MarginClass MarginClass `json:"margin_class" db:"margin_class"`
	Type        Side        `json:"type" db:"type"`

	Quantity     int64           `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"`
	TotalAmount  decimal.Decimal `json:"total_amount" db:"total_amount"`
	Brokerage    decimal.Decimal `json:"brokerage" db:"brokerage"`
	Taxes        decimal.Decimal `json:"taxes" db:"taxes"`
	TotalCharges decimal.Decimal `json:"total_charges" db:"total_charges"`
	// NetAmount is the unsigned cash movement of this trade: debited from
	// the wallet for buys, credited for sells.
	NetAmount    decimal.Decimal   `json:"net_amount" db:"net_amount"`
	BalanceAfter decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Status       TransactionStatus `json:"status" db:"status"`
	ExecutedAt   time.Time         `json:"executed_at" db:"executed_at"`

	// Reconciliation flags, set only on forced square-off sells.
	IsAutoSquareOff        bool       `json:"is_auto_square_off" db:"is_auto_square_off"`
	ScheduledSquareOffTime *time.Time `json:"scheduled_square_off_time,omitempty" db:"scheduled_square_off_time"`
	ActualExecutionTime    *time.Time `json:"actual_execution_time,omitempty" db:"actual_execution_time"`
}

// Portfolio is the read-side aggregate returned to callers: all open
// positions with refreshed valuations plus the wallet snapshot.
type Portfolio struct {
	UserID    string     `json:"user_id"`
	Wallet    Wallet     `json:"wallet"`
	Positions []Position `json:"positions"`
}
