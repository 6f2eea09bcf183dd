package valuer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/fixedpoint"
	"github.com/vault-engine/internal/types"
)

// PrincipalValuer values the vault's idle principal balance: units times the
// oracle price of the principal token. The holding handle names the token.
type PrincipalValuer struct {
	oracle PriceOracle
}

// NewPrincipalValuer creates a principal valuer backed by the given oracle
func NewPrincipalValuer(oracle PriceOracle) *PrincipalValuer {
	return &PrincipalValuer{oracle: oracle}
}

// Value returns units * price(token)
func (v *PrincipalValuer) Value(ctx context.Context, holding types.Holding, now time.Time) (decimal.Decimal, error) {
	price, err := v.oracle.Price(ctx, holding.Handle, now)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validatePrice(holding.Handle, price); err != nil {
		return decimal.Zero, err
	}
	return fixedpoint.MulPrice(holding.Units, price).Truncate(fixedpoint.ValueScale), nil
}
