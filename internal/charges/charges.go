// Package charges computes brokerage, statutory taxes, and net cash
// movement for a trade. Pure arithmetic on shopspring/decimal — no I/O.
//
// Schedule (flat-fee discount broker model):
//
//	brokerage = min(totalAmount × 0.05%, ₹20)
//	taxes     = STT + 18% GST on STT
//	          = totalAmount × 0.1%  × 1.18   (sell leg)
//	          = totalAmount × 0.01% × 1.18   (buy leg)
package charges

import (
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

var (
	brokerageRate = decimal.New(5, -4)  // 0.05%
	brokerageCap  = decimal.New(20, 0)  // ₹20 per order
	sttBuyRate    = decimal.New(1, -4)  // 0.01%
	sttSellRate   = decimal.New(1, -3)  // 0.1%
	gstMultiplier = decimal.New(118, -2)
)

// Breakdown is the full charge decomposition of one trade.
type Breakdown struct {
	TotalAmount  decimal.Decimal // price × quantity
	Brokerage    decimal.Decimal
	Taxes        decimal.Decimal
	TotalCharges decimal.Decimal
	// NetAmount is the cash movement: totalAmount + charges for buys,
	// totalAmount − charges for sells. Always non-negative for any
	// realistic charge schedule.
	NetAmount decimal.Decimal
}

// Compute prices a trade of quantity shares at price for the given side.
func Compute(side model.Side, price decimal.Decimal, quantity int64) Breakdown {
	total := price.Mul(decimal.NewFromInt(quantity))

	brokerage := total.Mul(brokerageRate)
	if brokerage.GreaterThan(brokerageCap) {
		brokerage = brokerageCap
	}

	sttRate := sttBuyRate
	if side == model.Sell {
		sttRate = sttSellRate
	}
	taxes := total.Mul(sttRate).Mul(gstMultiplier)

	totalCharges := brokerage.Add(taxes)

	net := total.Add(totalCharges)
	if side == model.Sell {
		net = total.Sub(totalCharges)
	}

	return Breakdown{
		TotalAmount:  total,
		Brokerage:    brokerage,
		Taxes:        taxes,
		TotalCharges: totalCharges,
		NetAmount:    net,
	}
}

// Margin returns the capital locked to open an intraday position of the
// given notional value (25% of notional, 4x leverage).
func Margin(totalAmount decimal.Decimal) decimal.Decimal {
	return totalAmount.Mul(model.MarginRatio)
}
