package store

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// stubRow feeds canned column values to the scan helpers.
type stubRow struct {
	vals []any
}

func (r stubRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.vals[i].(string)
		case *int64:
			*v = r.vals[i].(int64)
		case *time.Time:
			*v = r.vals[i].(time.Time)
		}
	}
	return nil
}

func positionRow(avg string) stubRow {
	now := time.Now().UTC()
	return stubRow{vals: []any{
		"pos-1", "user1", "TCS", "NSE", "INTRADAY", int64(10),
		avg, "1000", "250",
		now, now, now,
	}}
}

func TestScanPosition(t *testing.T) {
	p, err := scanPosition(positionRow("100.50"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !p.AveragePrice.Equal(decimal.RequireFromString("100.50")) {
		t.Errorf("average price = %s, want 100.50", p.AveragePrice)
	}
	if !p.MarginLocked.Equal(decimal.RequireFromString("250")) {
		t.Errorf("margin locked = %s, want 250", p.MarginLocked)
	}
}

func TestScanPositionRejectsCorruptNumeric(t *testing.T) {
	_, err := scanPosition(positionRow("not-a-number"))
	if err == nil {
		t.Fatal("corrupt NUMERIC scanned without error")
	}
	if !strings.Contains(err.Error(), "average_price") {
		t.Errorf("error %q should name the column", err)
	}
}

func TestParseNumeric(t *testing.T) {
	var d decimal.Decimal
	if err := parseNumeric(&d, "virtual_cash", "99749.382"); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !d.Equal(decimal.RequireFromString("99749.382")) {
		t.Errorf("parsed %s, want 99749.382", d)
	}

	if err := parseNumeric(&d, "virtual_cash", ""); err == nil {
		t.Error("empty value parsed without error")
	}
}
