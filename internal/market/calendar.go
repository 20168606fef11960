// Package market provides the exchange trading calendar: session hours,
// weekend/holiday handling, and the mandatory intraday square-off clock.
// All times are evaluated in IST (Asia/Kolkata).
package market

import (
	"time"
)

const (
	openHour, openMinute   = 9, 15
	closeHour, closeMinute = 15, 30
)

// Calendar answers session and trading-day questions for the Indian
// equity exchanges (NSE/BSE share the session window).
type Calendar struct {
	loc      *time.Location
	holidays map[string]bool // "2006-01-02" → closed
}

// NewCalendar returns a calendar seeded with the exchange holiday list.
func NewCalendar() *Calendar {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// IST has no DST; a fixed offset is equivalent.
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	c := &Calendar{loc: loc, holidays: make(map[string]bool)}
	for _, d := range defaultHolidays {
		c.holidays[d] = true
	}
	return c
}

// Exchange holidays (trading holidays, not settlement holidays).
var defaultHolidays = []string{
	"2026-01-26", // Republic Day
	"2026-03-03", // Holi
	"2026-03-21", // Id-ul-Fitr
	"2026-04-01", // Annual closing
	"2026-04-03", // Good Friday
	"2026-04-14", // Ambedkar Jayanti
	"2026-05-01", // Maharashtra Day
	"2026-08-15", // Independence Day
	"2026-10-02", // Gandhi Jayanti
	"2026-11-10", // Diwali
	"2026-12-25", // Christmas
}

// AddHoliday marks a date as a trading holiday.
func (c *Calendar) AddHoliday(d time.Time) {
	c.holidays[d.In(c.loc).Format("2006-01-02")] = true
}

// Location returns the calendar's time zone (IST).
func (c *Calendar) Location() *time.Location { return c.loc }

// IsTradingDay reports whether the date of t (in IST) is a weekday and
// not an exchange holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}

// IsOpen reports whether the market is in its normal session at t
// (09:15–15:30 IST on a trading day).
func (c *Calendar) IsOpen(t time.Time) bool {
	t = t.In(c.loc)
	if !c.IsTradingDay(t) {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= openHour*60+openMinute && mins < closeHour*60+closeMinute
}

// TradingDay truncates t to its IST calendar date. This is the trade-date
// anchor recorded on positions.
func (c *Calendar) TradingDay(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// SquareOffAt returns the mandated intraday square-off instant for the
// trading day containing d: 15:30 IST.
func (c *Calendar) SquareOffAt(d time.Time) time.Time {
	d = d.In(c.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), closeHour, closeMinute, 0, 0, c.loc)
}
