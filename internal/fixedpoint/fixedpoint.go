// Package fixedpoint provides deterministic scaled arithmetic for the vault
// accounting engine. All intermediates are arbitrary-precision decimals, so a
// product can never overflow before the corresponding division reduces it;
// results are narrowed to the target scale only at the end.
package fixedpoint

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	// ValueScale is the number of decimal places carried by USD values and shares
	ValueScale = 9
	// PriceScale is the number of decimal places carried by price-denominated conversions
	PriceScale = 18

	// divPrecision is the working precision for division before narrowing.
	// Kept above both scales so truncation never eats significant digits.
	divPrecision = 24
)

// ErrDivisionByZero is returned when a divisor is zero. Division never
// silently returns zero or wraps.
var ErrDivisionByZero = errors.New("division by zero")

// Zero is the zero value at value scale
var Zero = decimal.Zero

// One is the unit value, used as the share ratio of an empty vault
var One = decimal.NewFromInt(1)

// Mul multiplies two value-scale quantities, truncating the result to value scale.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(ValueScale)
}

// Div divides a by b at value scale, flooring toward zero.
// Fails with ErrDivisionByZero when b is zero.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.DivRound(b, divPrecision).Truncate(ValueScale), nil
}

// MulPrice multiplies at price scale, for token-amount times oracle-price conversions.
func MulPrice(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(PriceScale)
}

// DivPrice divides at price scale. Fails with ErrDivisionByZero when b is zero.
func DivPrice(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.DivRound(b, divPrecision).Truncate(PriceScale), nil
}

// MulDiv computes a*b/c in one step, keeping the full-precision product as the
// dividend. Fails with ErrDivisionByZero when c is zero.
func MulDiv(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	if c.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.Mul(b).DivRound(c, divPrecision).Truncate(ValueScale), nil
}
