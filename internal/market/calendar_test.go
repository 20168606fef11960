package market_test

import (
	"testing"
	"time"

	"github.com/papertrade/ledger-engine/internal/market"
)

// ist builds a time in the calendar's zone.
func ist(cal *market.Calendar, y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, cal.Location())
}

func TestIsOpen(t *testing.T) {
	cal := market.NewCalendar()

	// Thursday 2026-08-27 is a regular trading day.
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", ist(cal, 2026, time.August, 27, 9, 14), false},
		{"at open", ist(cal, 2026, time.August, 27, 9, 15), true},
		{"midday", ist(cal, 2026, time.August, 27, 12, 0), true},
		{"last minute", ist(cal, 2026, time.August, 27, 15, 29), true},
		{"at close", ist(cal, 2026, time.August, 27, 15, 30), false},
		{"saturday", ist(cal, 2026, time.August, 29, 12, 0), false},
		{"sunday", ist(cal, 2026, time.August, 30, 12, 0), false},
		{"republic day", ist(cal, 2026, time.January, 26, 12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.IsOpen(tt.at); got != tt.want {
				t.Errorf("IsOpen(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestIsTradingDay(t *testing.T) {
	cal := market.NewCalendar()

	if !cal.IsTradingDay(ist(cal, 2026, time.August, 27, 0, 0)) {
		t.Error("thursday should be a trading day")
	}
	if cal.IsTradingDay(ist(cal, 2026, time.August, 29, 0, 0)) {
		t.Error("saturday should not be a trading day")
	}
	if cal.IsTradingDay(ist(cal, 2026, time.November, 10, 0, 0)) {
		t.Error("diwali should not be a trading day")
	}

	extra := ist(cal, 2026, time.September, 1, 0, 0)
	cal.AddHoliday(extra)
	if cal.IsTradingDay(extra) {
		t.Error("added holiday should not be a trading day")
	}
}

func TestTradingDayCrossesUTCDate(t *testing.T) {
	cal := market.NewCalendar()

	// 20:00 UTC on the 27th is already 01:30 IST on the 28th.
	at := time.Date(2026, time.August, 27, 20, 0, 0, 0, time.UTC)
	got := cal.TradingDay(at)
	want := ist(cal, 2026, time.August, 28, 0, 0)
	if !got.Equal(want) {
		t.Errorf("TradingDay(%s) = %s, want %s", at, got, want)
	}
}

func TestSquareOffAt(t *testing.T) {
	cal := market.NewCalendar()

	got := cal.SquareOffAt(ist(cal, 2026, time.August, 27, 10, 30))
	want := ist(cal, 2026, time.August, 27, 15, 30)
	if !got.Equal(want) {
		t.Errorf("SquareOffAt = %s, want %s", got, want)
	}
}
