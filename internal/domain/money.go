package domain

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Money is an amount in minor units (cents). All arithmetic on it stays in integers.
type Money int64

const minorUnitsPerMajor = 100

var hundred = decimal.NewFromInt(minorUnitsPerMajor)

// Int64 returns the raw minor-unit value.
func (m Money) Int64() int64 { return int64(m) }

// Decimal returns the exact two-place display value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String renders the exact display value, e.g. "123.45".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// ToDisplay converts minor units to whole major units, rounding half away from zero.
// 10049 becomes 100 and 10050 becomes 101; negative amounts mirror that.
func ToDisplay(m Money) int64 {
	cents := int64(m)
	if cents < 0 {
		return -DivRoundHalfUp(-cents, minorUnitsPerMajor)
	}
	return DivRoundHalfUp(cents, minorUnitsPerMajor)
}

// FromDisplay converts a decimal display value to minor units: round(value * 100).
func FromDisplay(value decimal.Decimal) Money {
	return Money(value.Mul(hundred).Round(0).IntPart())
}

// ParseDisplay parses a decimal display string such as "1234.50" into minor units.
func ParseDisplay(raw string) (Money, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return FromDisplay(value), nil
}

// FormatDisplay renders the amount with two decimals using the digit grouping of tag.
// The whole part is formatted as an integer so large amounts stay exact.
func FormatDisplay(m Money, tag language.Tag) string {
	printer := message.NewPrinter(tag)
	abs := uint64(m)
	if m < 0 {
		abs = -abs
	}
	whole := printer.Sprint(number.Decimal(abs / minorUnitsPerMajor))
	// Renders as "0.05" in the locale; only the separator and the two digits are kept.
	fraction := printer.Sprint(number.Decimal(float64(abs%minorUnitsPerMajor)/minorUnitsPerMajor, number.Scale(2)))
	if i := strings.IndexFunc(fraction, func(r rune) bool { return !unicode.IsDigit(r) }); i >= 0 {
		fraction = fraction[i:]
	}
	if m < 0 {
		return "-" + whole + fraction
	}
	return whole + fraction
}

// DivRoundHalfUp divides two non-negative integers and rounds the quotient half up.
func DivRoundHalfUp(numerator, denominator int64) int64 {
	if denominator <= 0 {
		return 0
	}
	quotient := numerator / denominator
	remainder := numerator % denominator
	if remainder >= denominator-remainder {
		quotient++
	}
	return quotient
}

// MulQuantity returns m * quantity, or false when the product does not fit in Money.
func MulQuantity(m Money, quantity int64) (Money, bool) {
	if m == 0 || quantity == 0 {
		return 0, true
	}
	if m < 0 || quantity < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(m), uint64(quantity))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return Money(lo), true
}

// AddChecked returns a + b for non-negative operands, or false on overflow.
func AddChecked(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
