package trade_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/market"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/oracle"
	"github.com/papertrade/ledger-engine/internal/store"
	"github.com/papertrade/ledger-engine/internal/trade"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

// newEngineEnv creates an engine over the in-memory store and a static
// price oracle, with ₹100,000 starting cash.
func newEngineEnv(t *testing.T) (*trade.Engine, *store.MemoryStore, *oracle.Static) {
	t.Helper()
	ms := store.NewMemoryStore(d("100000"))
	orc := oracle.NewStatic()
	cal := market.NewCalendar()
	return trade.NewEngine(ms, orc, cal, nil), ms, orc
}

func limitBuy(userID, symbol string, mc model.MarginClass, qty int64, price string) trade.Request {
	return trade.Request{
		UserID:      userID,
		Symbol:      symbol,
		Exchange:    model.NSE,
		MarginClass: mc,
		Side:        model.Buy,
		Quantity:    qty,
		OrderType:   model.Limit,
		LimitPrice:  dp(price),
	}
}

func limitSell(userID, symbol string, mc model.MarginClass, qty int64, price string) trade.Request {
	req := limitBuy(userID, symbol, mc, qty, price)
	req.Side = model.Sell
	return req
}

func mustExecute(t *testing.T, e *trade.Engine, req trade.Request) *model.Transaction {
	t.Helper()
	res, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute %s %s: %v", req.Side, req.Symbol, err)
	}
	return res.Transaction
}

func TestDeliveryBuyDebitsFullNetAmount(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	ctx := context.Background()

	txn := mustExecute(t, engine, limitBuy("user1", "RELIANCE", model.Delivery, 10, "100"))

	if !txn.NetAmount.Equal(d("1000.618")) {
		t.Errorf("net = %s, want 1000.618", txn.NetAmount)
	}
	if !txn.BalanceAfter.Equal(d("98999.382")) {
		t.Errorf("balance after = %s, want 98999.382", txn.BalanceAfter)
	}

	w, _ := ms.Wallet(ctx, "user1")
	if !w.VirtualCash.Equal(d("98999.382")) {
		t.Errorf("cash = %s, want 98999.382", w.VirtualCash)
	}
	if !w.MISMarginUsed.IsZero() {
		t.Errorf("delivery buy locked margin: %s", w.MISMarginUsed)
	}

	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	p := positions[0]
	if p.Quantity != 10 || !p.AveragePrice.Equal(d("100")) || !p.TotalInvested.Equal(d("1000")) {
		t.Errorf("position = qty %d avg %s invested %s", p.Quantity, p.AveragePrice, p.TotalInvested)
	}
	if !p.MarginLocked.IsZero() {
		t.Errorf("delivery position has margin locked: %s", p.MarginLocked)
	}
}

func TestBuyAveragesCostBasis(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	ctx := context.Background()

	mustExecute(t, engine, limitBuy("user1", "TCS", model.Delivery, 10, "100"))
	mustExecute(t, engine, limitBuy("user1", "TCS", model.Delivery, 10, "120"))

	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1 merged position", len(positions))
	}
	p := positions[0]
	if p.Quantity != 20 {
		t.Errorf("quantity = %d, want 20", p.Quantity)
	}
	if !p.AveragePrice.Equal(d("110")) {
		t.Errorf("average price = %s, want 110", p.AveragePrice)
	}
	if !p.TotalInvested.Equal(d("2200")) {
		t.Errorf("invested = %s, want 2200", p.TotalInvested)
	}
}

func TestMarginClassesAreSeparateBooks(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	ctx := context.Background()

	mustExecute(t, engine, limitBuy("user1", "TCS", model.Delivery, 10, "100"))
	mustExecute(t, engine, limitBuy("user1", "TCS", model.Intraday, 5, "100"))

	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want separate delivery and intraday books", len(positions))
	}
}

func TestIntradayBuyLocksMargin(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	ctx := context.Background()

	txn := mustExecute(t, engine, limitBuy("user1", "INFY", model.Intraday, 10, "100"))

	// Debit is 25% margin (250) plus charges (0.618), not the notional.
	if !txn.NetAmount.Equal(d("250.618")) {
		t.Errorf("net = %s, want 250.618", txn.NetAmount)
	}

	w, _ := ms.Wallet(ctx, "user1")
	if !w.VirtualCash.Equal(d("99749.382")) {
		t.Errorf("cash = %s, want 99749.382", w.VirtualCash)
	}
	if !w.MISMarginUsed.Equal(d("250")) {
		t.Errorf("margin used = %s, want 250", w.MISMarginUsed)
	}

	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 1 || !positions[0].MarginLocked.Equal(d("250")) {
		t.Fatalf("position margin locked = %+v, want 250", positions)
	}
}

func TestIntradayRoundTripAtLoss(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	ctx := context.Background()

	mustExecute(t, engine, limitBuy("user1", "INFY", model.Intraday, 10, "100"))
	txn := mustExecute(t, engine, limitSell("user1", "INFY", model.Intraday, 10, "95"))

	// Credit = released margin 250 + (net proceeds 948.404 − basis 1000).
	if !txn.NetAmount.Equal(d("198.404")) {
		t.Errorf("sell credit = %s, want 198.404", txn.NetAmount)
	}

	w, _ := ms.Wallet(ctx, "user1")
	if !w.VirtualCash.Equal(d("99947.786")) {
		t.Errorf("cash = %s, want 99947.786", w.VirtualCash)
	}
	if !w.MISMarginUsed.IsZero() {
		t.Errorf("margin used = %s, want 0 after full close", w.MISMarginUsed)
	}

	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 0 {
		t.Errorf("position should be deleted on full close, got %+v", positions)
	}
}

func TestIntradayPartialSellReleasesProportionalMargin(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	ctx := context.Background()

	mustExecute(t, engine, limitBuy("user1", "INFY", model.Intraday, 10, "100"))
	mustExecute(t, engine, limitSell("user1", "INFY", model.Intraday, 4, "100"))

	w, _ := ms.Wallet(ctx, "user1")
	if !w.MISMarginUsed.Equal(d("150")) {
		t.Errorf("margin used = %s, want 150 after selling 4 of 10", w.MISMarginUsed)
	}

	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	p := positions[0]
	if p.Quantity != 6 || !p.MarginLocked.Equal(d("150")) {
		t.Errorf("position qty %d margin %s, want 6 / 150", p.Quantity, p.MarginLocked)
	}
	if !p.TotalInvested.Equal(d("600")) {
		t.Errorf("invested = %s, want 600", p.TotalInvested)
	}
}

func TestDeliverySellCreditsNetProceeds(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	ctx := context.Background()

	mustExecute(t, engine, limitBuy("user1", "TCS", model.Delivery, 10, "100"))
	txn := mustExecute(t, engine, limitSell("user1", "TCS", model.Delivery, 10, "100"))

	if !txn.NetAmount.Equal(d("998.32")) {
		t.Errorf("sell credit = %s, want 998.32", txn.NetAmount)
	}
	w, _ := ms.Wallet(ctx, "user1")
	// Round trip at flat price loses exactly the charges on both legs.
	if !w.VirtualCash.Equal(d("99997.702")) {
		t.Errorf("cash = %s, want 99997.702", w.VirtualCash)
	}
}

func TestInsufficientFundsRejectsWithoutMutation(t *testing.T) {
	ms := store.NewMemoryStore(d("100"))
	engine := trade.NewEngine(ms, oracle.NewStatic(), market.NewCalendar(), nil)
	ctx := context.Background()

	_, err := engine.Execute(ctx, limitBuy("user1", "TCS", model.Delivery, 10, "100"))
	if !errors.Is(err, trade.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	w, _ := ms.Wallet(ctx, "user1")
	if !w.VirtualCash.Equal(d("100")) {
		t.Errorf("cash = %s, wallet should be untouched", w.VirtualCash)
	}
	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 0 {
		t.Errorf("rejected trade created a position: %+v", positions)
	}
	txns, _ := ms.Transactions(ctx, "user1", 0)
	if len(txns) != 0 {
		t.Errorf("rejected trade recorded a transaction: %+v", txns)
	}
}

func TestSellWithoutHoldingsRejected(t *testing.T) {
	engine, _, _ := newEngineEnv(t)

	_, err := engine.Execute(context.Background(), limitSell("user1", "TCS", model.Delivery, 5, "100"))
	if !errors.Is(err, trade.ErrInsufficientHoldings) {
		t.Fatalf("err = %v, want ErrInsufficientHoldings", err)
	}
}

func TestOversellRejected(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	ctx := context.Background()

	mustExecute(t, engine, limitBuy("user1", "TCS", model.Delivery, 10, "100"))

	_, err := engine.Execute(ctx, limitSell("user1", "TCS", model.Delivery, 15, "100"))
	if !errors.Is(err, trade.ErrInsufficientHoldings) {
		t.Fatalf("err = %v, want ErrInsufficientHoldings", err)
	}

	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 1 || positions[0].Quantity != 10 {
		t.Errorf("position mutated by rejected oversell: %+v", positions)
	}
}

func TestMarketOrderFailsWhenPriceUnavailable(t *testing.T) {
	engine, _, _ := newEngineEnv(t)

	_, err := engine.Execute(context.Background(), trade.Request{
		UserID:      "user1",
		Symbol:      "TCS",
		Exchange:    model.NSE,
		MarginClass: model.Delivery,
		Side:        model.Buy,
		Quantity:    5,
		OrderType:   model.Market,
	})
	if !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestMarketOrderUsesLivePrice(t *testing.T) {
	engine, _, orc := newEngineEnv(t)
	orc.SetLive("TCS", model.NSE, d("3500"))

	res, err := engine.Execute(context.Background(), trade.Request{
		UserID:      "user1",
		Symbol:      "TCS",
		Exchange:    model.NSE,
		MarginClass: model.Delivery,
		Side:        model.Buy,
		Quantity:    2,
		OrderType:   model.Market,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Transaction.Price.Equal(d("3500")) {
		t.Errorf("price = %s, want the oracle's 3500", res.Transaction.Price)
	}
}

// backdateTradeDate moves a position's trade date to the most recent
// trading day before today.
func backdateTradeDate(t *testing.T, ms *store.MemoryStore, cal *market.Calendar, userID, symbol string, mc model.MarginClass) time.Time {
	t.Helper()
	ctx := context.Background()

	day := cal.TradingDay(time.Now()).AddDate(0, 0, -1)
	for !cal.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}

	err := ms.Atomic(ctx, func(tx store.Tx) error {
		pos, err := tx.PositionForUpdate(ctx, userID, symbol, model.NSE, mc)
		if err != nil {
			return err
		}
		pos.TradeDate = day
		return tx.SavePosition(ctx, pos)
	})
	if err != nil {
		t.Fatalf("backdate %s: %v", symbol, err)
	}
	return day
}

func TestSquareOffIgnoresReopenedPosition(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	cal := market.NewCalendar()
	ctx := context.Background()

	// Yesterday's position, captured as the reconciler's stale snapshot.
	mustExecute(t, engine, limitBuy("user1", "INFY", model.Intraday, 10, "100"))
	tradeDate := backdateTradeDate(t, ms, cal, "user1", "INFY", model.Intraday)
	stale, err := ms.StaleIntradayPositions(ctx, "user1", cal.TradingDay(time.Now()))
	if err != nil || len(stale) != 1 {
		t.Fatalf("stale snapshot: %v %v", stale, err)
	}
	snapshot := stale[0]

	// A live trade closes it and re-opens the same key today.
	mustExecute(t, engine, limitSell("user1", "INFY", model.Intraday, 10, "100"))
	mustExecute(t, engine, limitBuy("user1", "INFY", model.Intraday, 5, "100"))

	txn, err := engine.SquareOff(ctx, snapshot, d("95"), cal.SquareOffAt(tradeDate))
	if err != nil {
		t.Fatalf("square off: %v", err)
	}
	if txn != nil {
		t.Fatalf("stale snapshot sold today's position: %+v", txn)
	}

	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 1 || positions[0].Quantity != 5 {
		t.Errorf("today's position should be untouched, got %+v", positions)
	}
	w, _ := ms.Wallet(ctx, "user1")
	if !w.MISMarginUsed.Equal(d("125")) {
		t.Errorf("margin used = %s, want 125 still locked", w.MISMarginUsed)
	}
}

func TestTradeDateSurvivesReAdditionAndResetsOnReopen(t *testing.T) {
	engine, ms, _ := newEngineEnv(t)
	cal := market.NewCalendar()
	ctx := context.Background()
	today := cal.TradingDay(time.Now())

	mustExecute(t, engine, limitBuy("user1", "INFY", model.Intraday, 10, "100"))
	backdated := backdateTradeDate(t, ms, cal, "user1", "INFY", model.Intraday)

	// Buying more keeps the open date: the square-off deadline does not
	// extend just because the position grew.
	mustExecute(t, engine, limitBuy("user1", "INFY", model.Intraday, 5, "110"))
	positions, _ := ms.Positions(ctx, "user1")
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if !positions[0].TradeDate.Equal(backdated) {
		t.Errorf("trade date = %s after re-addition, want %s", positions[0].TradeDate, backdated)
	}

	// A full close and re-open starts a fresh position dated today.
	mustExecute(t, engine, limitSell("user1", "INFY", model.Intraday, 15, "100"))
	mustExecute(t, engine, limitBuy("user1", "INFY", model.Intraday, 3, "100"))
	positions, _ = ms.Positions(ctx, "user1")
	if len(positions) != 1 {
		t.Fatalf("got %d positions after reopen, want 1", len(positions))
	}
	if !positions[0].TradeDate.Equal(today) {
		t.Errorf("trade date = %s after reopen, want %s", positions[0].TradeDate, today)
	}
}

func TestValidationRejection(t *testing.T) {
	engine, _, _ := newEngineEnv(t)

	_, err := engine.Execute(context.Background(), trade.Request{
		Symbol:      "TCS",
		Exchange:    model.NSE,
		MarginClass: model.Delivery,
		Side:        model.Buy,
		Quantity:    0,
		OrderType:   model.Limit,
	})

	var vErr *trade.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(vErr.Errors) < 3 {
		t.Errorf("expected missing user, zero quantity, and missing limit price; got %v", vErr.Errors)
	}
}
