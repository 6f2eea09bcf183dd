package shares

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/fixedpoint"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestShareRatioUnitAtZeroShares(t *testing.T) {
	ratio, err := ShareRatio(dec("123456"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, ratio.Equal(fixedpoint.One), "zero shares yields the unit ratio, never an error")
}

func TestShareRatioDerivation(t *testing.T) {
	ratio, err := ShareRatio(dec("1500"), dec("1000"))
	require.NoError(t, err)
	assert.True(t, ratio.Equal(dec("1.5")))
}

func TestSharesForDepositZeroRatioFails(t *testing.T) {
	_, err := SharesForDeposit(dec("100"), decimal.Zero)
	assert.True(t, errors.HasCode(err, errors.CodeDivisionByZero))
}

func TestZeroResultsRejected(t *testing.T) {
	// A deposit so small it rounds to zero shares must fail, not mint nothing
	_, err := SharesForDeposit(dec("0.0000000001"), dec("1000000"))
	assert.True(t, errors.HasCode(err, errors.CodeZeroAmount))

	// A redemption that rounds to zero value must fail, not burn for free
	_, err = AmountForWithdraw(dec("0.0000000001"), dec("0.0000000001"))
	assert.True(t, errors.HasCode(err, errors.CodeZeroAmount))
}

func TestBurnBeyondSupplyFails(t *testing.T) {
	a := New()
	a.Mint(dec("10"))
	err := a.Burn(dec("11"))
	assert.True(t, errors.HasCode(err, errors.CodeConflict))
	assert.True(t, a.TotalShares().Equal(dec("10")))
}

func TestPropertyDepositWithdrawRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// amount_for_withdraw(shares_for_deposit(x, r), r) ~= x for r > 0
	properties.Property("deposit then withdraw round-trips within rounding tolerance", prop.ForAll(
		func(amountCents int64, ratioMilli int64) bool {
			x := decimal.NewFromInt(amountCents).Shift(-2)
			r := decimal.NewFromInt(ratioMilli).Shift(-3)

			minted, err := SharesForDeposit(x, r)
			if err != nil {
				return false
			}
			back, err := AmountForWithdraw(minted, r)
			if err != nil {
				return false
			}
			// One share quantum scaled by the ratio bounds the rounding error
			tolerance := decimal.New(1, -fixedpoint.ValueScale).Mul(r).Add(decimal.New(1, -fixedpoint.ValueScale))
			return back.Sub(x).Abs().LessThanOrEqual(tolerance)
		},
		gen.Int64Range(100, 1_000_000_000),
		gen.Int64Range(1, 1_000_000),
	))

	properties.TestingRun(t)
}
