package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places between major and minor
// currency units. Every currency the portal charges in uses two.
const minorUnitExponent = 2

// MaxAmountMinor is the largest amount a single checkout can charge
// (999,999.99 in major units).
const MaxAmountMinor int64 = 99_999_999

var ErrAmountOutOfRange = errors.New("amount out of range")

var maxAmount = decimal.NewFromInt(MaxAmountMinor)

// MajorToMinor converts a major-unit amount (e.g. 12.345 dollars) to integer
// minor units, rounding half up on the remainder. Amounts whose magnitude
// exceeds MaxAmountMinor fail with ErrAmountOutOfRange.
func MajorToMinor(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(minorUnitExponent).Round(0)
	if minor.Abs().GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %s exceeds %s", ErrAmountOutOfRange, amount.String(), MinorToMajor(MaxAmountMinor).StringFixed(minorUnitExponent))
	}
	return minor.IntPart(), nil
}

// MinorToMajor converts integer minor units to a major-unit decimal.
func MinorToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExponent)
}

// FormatMinor renders minor units for display, e.g. "12.34 USD".
func FormatMinor(minor int64, currency string) string {
	return fmt.Sprintf("%s %s", MinorToMajor(minor).StringFixed(minorUnitExponent), strings.ToUpper(currency))
}
