package trade

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// Position book: weighted-average cost basis per (user, symbol,
// exchange, margin class). Pure functions over row-locked positions;
// persistence stays with the settlement engine.

// applyBuy folds a buy into pos, creating the position if pos is nil.
// On re-additions the average price becomes the quantity-weighted mean
// of the old basis and the new fill; TradeDate is untouched — it only
// resets when a position is opened (or re-opened after a full close,
// which arrives here as pos == nil because closing deleted the row).
func applyBuy(pos *model.Position, req Request, price, marginLocked decimal.Decimal, tradeDate, now time.Time) *model.Position {
	qty := decimal.NewFromInt(req.Quantity)

	if pos == nil {
		return &model.Position{
			ID:            uuid.New().String(),
			UserID:        req.UserID,
			Symbol:        req.Symbol,
			Exchange:      req.Exchange,
			MarginClass:   req.MarginClass,
			Quantity:      req.Quantity,
			AveragePrice:  price,
			TotalInvested: price.Mul(qty),
			MarginLocked:  marginLocked,
			TradeDate:     tradeDate,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	oldQty := decimal.NewFromInt(pos.Quantity)
	newQty := oldQty.Add(qty)
	pos.AveragePrice = pos.AveragePrice.Mul(oldQty).Add(price.Mul(qty)).Div(newQty)
	pos.Quantity += req.Quantity
	pos.TotalInvested = pos.AveragePrice.Mul(newQty)
	pos.MarginLocked = pos.MarginLocked.Add(marginLocked)
	pos.UpdatedAt = now
	return pos
}

// applySell decrements pos by quantity and reports whether the position
// is now fully closed (the caller deletes the row). A sell beyond the
// held quantity is a programming-contract violation — the validator must
// have rejected it — and fails loudly rather than clamping.
func applySell(pos *model.Position, quantity int64, now time.Time) (closed bool, err error) {
	if pos == nil {
		return false, fmt.Errorf("position book contract violation: sell against nil position")
	}
	if quantity > pos.Quantity {
		return false, fmt.Errorf("position book contract violation: selling %d of %d held",
			quantity, pos.Quantity)
	}

	pos.Quantity -= quantity
	if pos.Quantity == 0 {
		return true, nil
	}
	pos.TotalInvested = pos.AveragePrice.Mul(decimal.NewFromInt(pos.Quantity))
	pos.UpdatedAt = now
	return false, nil
}

// marginToRelease returns the slice of the position's locked margin
// attributable to selling quantity shares. A full close releases the
// exact remaining locked amount so no rounding residue accumulates.
func marginToRelease(pos *model.Position, quantity int64) decimal.Decimal {
	if pos.MarginClass != model.Intraday {
		return decimal.Zero
	}
	if quantity >= pos.Quantity {
		return pos.MarginLocked
	}
	return pos.MarginLocked.
		Mul(decimal.NewFromInt(quantity)).
		Div(decimal.NewFromInt(pos.Quantity))
}
