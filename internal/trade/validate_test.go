package trade_test

import (
	"testing"
	"time"

	"github.com/papertrade/ledger-engine/internal/market"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/trade"
)

func validRequest() trade.Request {
	return trade.Request{
		UserID:      "user1",
		Symbol:      "TCS",
		Exchange:    model.NSE,
		MarginClass: model.Delivery,
		Side:        model.Buy,
		Quantity:    10,
		OrderType:   model.Limit,
		LimitPrice:  dp("100"),
	}
}

func TestScreenAcceptsValidRequest(t *testing.T) {
	cal := market.NewCalendar()
	v := trade.NewValidator(cal)

	// Midday on a regular trading day.
	now := time.Date(2026, time.August, 27, 12, 0, 0, 0, cal.Location())
	res := v.Screen(validRequest(), now)

	if !res.Valid {
		t.Fatalf("valid request rejected: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings during session: %v", res.Warnings)
	}
}

func TestScreenClosedMarketWarnsButAccepts(t *testing.T) {
	cal := market.NewCalendar()
	v := trade.NewValidator(cal)

	// Sunday.
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, cal.Location())
	res := v.Screen(validRequest(), now)

	if !res.Valid {
		t.Fatalf("closed market must not reject: %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one closed-market warning, got %v", res.Warnings)
	}
}

func TestScreenRejections(t *testing.T) {
	cal := market.NewCalendar()
	v := trade.NewValidator(cal)
	now := time.Date(2026, time.August, 27, 12, 0, 0, 0, cal.Location())

	tests := []struct {
		name   string
		mutate func(*trade.Request)
	}{
		{"missing user", func(r *trade.Request) { r.UserID = "" }},
		{"missing symbol", func(r *trade.Request) { r.Symbol = "" }},
		{"bad exchange", func(r *trade.Request) { r.Exchange = "NYSE" }},
		{"bad margin class", func(r *trade.Request) { r.MarginClass = "GTC" }},
		{"bad side", func(r *trade.Request) { r.Side = "SHORT" }},
		{"bad order type", func(r *trade.Request) { r.OrderType = "STOP" }},
		{"zero quantity", func(r *trade.Request) { r.Quantity = 0 }},
		{"negative quantity", func(r *trade.Request) { r.Quantity = -3 }},
		{"limit without price", func(r *trade.Request) { r.LimitPrice = nil }},
		{"limit with zero price", func(r *trade.Request) { r.LimitPrice = dp("0") }},
		{"market with limit price", func(r *trade.Request) {
			r.OrderType = model.Market
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			res := v.Screen(req, now)
			if res.Valid {
				t.Errorf("request accepted, want rejection")
			}
		})
	}
}
