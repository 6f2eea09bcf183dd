// Package shares converts between USD value and vault shares.
package shares

import (
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/fixedpoint"
)

// Accounting tracks total outstanding shares for one vault.
// The share ratio pairs this supply with the ledger's total value.
type Accounting struct {
	totalShares decimal.Decimal
}

// New creates share accounting with zero outstanding shares
func New() *Accounting {
	return &Accounting{totalShares: decimal.Zero}
}

// Restore rebuilds share accounting from a persisted supply
func Restore(totalShares decimal.Decimal) *Accounting {
	return &Accounting{totalShares: totalShares}
}

// TotalShares returns the outstanding share supply
func (a *Accounting) TotalShares() decimal.Decimal {
	return a.totalShares
}

// Mint increases the share supply
func (a *Accounting) Mint(shares decimal.Decimal) {
	a.totalShares = a.totalShares.Add(shares)
}

// Burn decreases the share supply, failing if it would go negative
func (a *Accounting) Burn(shares decimal.Decimal) error {
	next := a.totalShares.Sub(shares)
	if next.IsNegative() {
		return errors.NewConflictError("share burn exceeds outstanding supply")
	}
	a.totalShares = next
	return nil
}

// ShareRatio derives USD-per-share from the ledger total and the share supply.
// An empty vault (zero shares) values each share at exactly one unit.
// A vault whose total value has hit zero while shares remain outstanding must
// halt issuance: the ratio itself is well-defined (zero) but every subsequent
// deposit conversion would divide by it.
func ShareRatio(totalUSD, totalShares decimal.Decimal) (decimal.Decimal, error) {
	if totalShares.IsZero() {
		return fixedpoint.One, nil
	}
	ratio, err := fixedpoint.Div(totalUSD, totalShares)
	if err != nil {
		return decimal.Zero, errors.NewDivisionByZeroError("share ratio")
	}
	return ratio, nil
}

// SharesForDeposit converts a USD deposit into shares at the pre-deposit ratio.
// Fails with ZERO_AMOUNT when the result would round to nothing (a free mint),
// and with DIVISION_BY_ZERO when the ratio has collapsed to zero.
func SharesForDeposit(usdDelta, ratioBefore decimal.Decimal) (decimal.Decimal, error) {
	if ratioBefore.IsZero() {
		return decimal.Zero, errors.NewDivisionByZeroError("deposit conversion")
	}
	out, err := fixedpoint.Div(usdDelta, ratioBefore)
	if err != nil {
		return decimal.Zero, errors.NewDivisionByZeroError("deposit conversion")
	}
	if !out.IsPositive() {
		return decimal.Zero, errors.NewZeroAmountError("deposit")
	}
	return out, nil
}

// AmountForWithdraw converts shares back into USD at the given ratio.
// Fails with ZERO_AMOUNT when the redemption would round to nothing
// (a share burn for no value).
func AmountForWithdraw(sharesIn, ratio decimal.Decimal) (decimal.Decimal, error) {
	out := fixedpoint.Mul(sharesIn, ratio)
	if !out.IsPositive() {
		return decimal.Zero, errors.NewZeroAmountError("withdrawal")
	}
	return out, nil
}
