// Package money represents currency amounts as integer cents.
//
// Checkout hands over order totals as floats. They are converted once at the
// boundary through decimal arithmetic and never accumulated as floats.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a non-fractional count of cents.
type Amount int64

var ErrInvalidAmount = errors.New("invalid_amount")

var hundred = decimal.NewFromInt(100)

// FromUnits builds an amount from whole currency units.
func FromUnits(units int64) Amount {
	return Amount(units * 100)
}

// FromFloat converts a float currency value, rounding half away from zero to
// the nearest cent.
func FromFloat(value float64) Amount {
	return fromDecimal(decimal.NewFromFloat(value))
}

// Parse reads a decimal string such as "1500.00" or "499.5".
func Parse(raw string) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return fromDecimal(d), nil
}

// FromDecimal rounds a currency value to the nearest cent.
func FromDecimal(d decimal.Decimal) Amount {
	return fromDecimal(d)
}

func fromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Mul(hundred).Round(0).IntPart())
}

func (a Amount) Cents() int64 { return int64(a) }

// Decimal returns the amount in currency units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String formats with exactly two decimals, e.g. "500.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}
