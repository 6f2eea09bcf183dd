package fixedpoint

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestDivByZeroAlwaysFails(t *testing.T) {
	_, err := Div(d("1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = DivPrice(d("123.456"), decimal.Zero)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = MulDiv(d("2"), d("3"), decimal.Zero)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMulTruncatesToValueScale(t *testing.T) {
	got := Mul(d("1.0000000005"), d("1"))
	assert.True(t, got.Equal(d("1")), "got %s", got)

	got = Mul(d("-2.5"), d("3"))
	assert.True(t, got.Equal(d("-7.5")))
}

func TestDivLargeProductDoesNotOverflow(t *testing.T) {
	// A product far beyond 64-bit range must survive the intermediate step
	a := d("92233720368547758.07")
	b := d("92233720368547758.07")
	got, err := MulDiv(a, b, b)
	require.NoError(t, err)
	assert.True(t, got.Equal(a.Truncate(ValueScale)), "got %s", got)
}

func TestSignedDivision(t *testing.T) {
	got, err := Div(d("-10"), d("4"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("-2.5")))
}

func TestMulDivKeepsFullPrecisionDividend(t *testing.T) {
	// (1/3)*3 == 1 when the product is divided before narrowing
	got, err := MulDiv(d("1"), d("3"), d("3"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("1")))
}

func TestPropertyMulDivRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// For positive a, b: Div(Mul(a,b), b) stays within one quantum of a
	properties.Property("mul then div round-trips within rounding tolerance", prop.ForAll(
		func(aCents int64, bCents int64) bool {
			a := decimal.NewFromInt(aCents).Shift(-2)
			b := decimal.NewFromInt(bCents).Shift(-2)
			product := Mul(a, b)
			back, err := Div(product, b)
			if err != nil {
				return false
			}
			quantum := decimal.New(1, -ValueScale)
			return back.Sub(a).Abs().LessThanOrEqual(quantum)
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.Int64Range(1, 1_000_000_000),
	))

	properties.TestingRun(t)
}

func TestPropertyDivNeverSilentlyZero(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// For a >= 1 and b in [1, 1000]: Div(a, b) is strictly positive
	properties.Property("division of positive operands is positive", prop.ForAll(
		func(a int64, b int64) bool {
			got, err := Div(decimal.NewFromInt(a), decimal.NewFromInt(b))
			return err == nil && got.IsPositive()
		},
		gen.Int64Range(1, 1_000_000_000_000),
		gen.Int64Range(1, 1000),
	))

	properties.TestingRun(t)
}
