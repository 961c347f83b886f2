// Package quant holds the fixed-point scalar types used on the hot path.
//
// Prices are carried as micros (1e-6) and quantities as sats (1e-8) in int64.
// Conversion from text goes through shopspring/decimal so that excess precision
// and out-of-range values are reported instead of truncated.
package quant

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PriceScale = 6
	QtyScale   = 8
)

var (
	// ErrOverflow is returned when a value does not fit the fixed-point range.
	ErrOverflow = errors.New("value out of range")
	// ErrPrecision is returned when a value has more decimals than the scale allows.
	ErrPrecision = errors.New("too many decimal places")

	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// PriceMicros is a price scaled by 1e6.
type PriceMicros int64

// QtySats is a quantity scaled by 1e8.
type QtySats int64

// TimeStamp is a Unix timestamp in microseconds.
type TimeStamp int64

// ToPriceMicros converts a float price, rounding to the nearest micro.
func ToPriceMicros(v float64) PriceMicros {
	return PriceMicros(math.Round(v * 1e6))
}

// ToQtySats converts a float quantity, rounding to the nearest sat.
func ToQtySats(v float64) QtySats {
	return QtySats(math.Round(v * 1e8))
}

// ParsePriceMicros parses a decimal string into micros.
func ParsePriceMicros(s string) (PriceMicros, error) {
	v, err := parseScaled(s, PriceScale)
	return PriceMicros(v), err
}

// ParseQtySats parses a decimal string into sats.
func ParseQtySats(s string) (QtySats, error) {
	v, err := parseScaled(s, QtyScale)
	return QtySats(v), err
}

func parseScaled(s string, scale int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	scaled := d.Shift(scale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("parse %q: %w", s, ErrPrecision)
	}
	if scaled.GreaterThan(maxInt64) || scaled.LessThan(minInt64) {
		return 0, fmt.Errorf("parse %q: %w", s, ErrOverflow)
	}
	return scaled.IntPart(), nil
}

// Decimal returns the price as a decimal in whole units.
func (p PriceMicros) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceScale)
}

// Float64 returns the price in whole units.
func (p PriceMicros) Float64() float64 {
	return float64(p) / 1e6
}

func (p PriceMicros) String() string {
	return p.Decimal().String()
}

// Decimal returns the quantity as a decimal in whole units.
func (q QtySats) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -QtyScale)
}

// Float64 returns the quantity in whole units.
func (q QtySats) Float64() float64 {
	return float64(q) / 1e8
}

func (q QtySats) String() string {
	return q.Decimal().String()
}

// FromTime converts a wall-clock time to a TimeStamp.
func FromTime(t time.Time) TimeStamp {
	return TimeStamp(t.UnixMicro())
}

// Time converts the TimeStamp back to a time.Time.
func (ts TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(ts))
}
