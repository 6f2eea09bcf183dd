package valuer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/fixedpoint"
	"github.com/vault-engine/internal/types"
)

// LendingPosition is one leveraged position in an external lending market
type LendingPosition struct {
	CollateralToken  string
	CollateralAmount decimal.Decimal
	DebtToken        string
	DebtAmount       decimal.Decimal
}

// PositionReader resolves a lending position from its strategy-side handle
type PositionReader interface {
	Position(ctx context.Context, handle string) (LendingPosition, error)
}

// LendingValuer values leveraged lending positions as
// collateral*price - debt*price, signed.
//
// A position with zero collateral but positive debt is a liability, and its
// value is genuinely negative. When rejectUnderwater is set, any non-positive
// value fails with VALUATION_REJECTED instead: the position is unhealthy and
// must be unwound before the ledger will accept it.
type LendingValuer struct {
	positions        PositionReader
	oracle           PriceOracle
	rejectUnderwater bool
}

// NewLendingValuer creates a lending valuer
func NewLendingValuer(positions PositionReader, oracle PriceOracle, rejectUnderwater bool) *LendingValuer {
	return &LendingValuer{
		positions:        positions,
		oracle:           oracle,
		rejectUnderwater: rejectUnderwater,
	}
}

// Value returns the signed net value of the position
func (v *LendingValuer) Value(ctx context.Context, holding types.Holding, now time.Time) (decimal.Decimal, error) {
	pos, err := v.positions.Position(ctx, holding.Handle)
	if err != nil {
		return decimal.Zero, err
	}

	collateralPrice, err := v.oracle.Price(ctx, pos.CollateralToken, now)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validatePrice(pos.CollateralToken, collateralPrice); err != nil {
		return decimal.Zero, err
	}

	debtPrice, err := v.oracle.Price(ctx, pos.DebtToken, now)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validatePrice(pos.DebtToken, debtPrice); err != nil {
		return decimal.Zero, err
	}

	collateralUSD := fixedpoint.MulPrice(pos.CollateralAmount, collateralPrice)
	debtUSD := fixedpoint.MulPrice(pos.DebtAmount, debtPrice)
	net := collateralUSD.Sub(debtUSD).Truncate(fixedpoint.ValueScale)

	if v.rejectUnderwater && !net.IsPositive() {
		return decimal.Zero, errors.NewValuationRejectedError(holding.TypeID,
			"position is underwater (debt "+debtUSD.String()+" >= collateral "+collateralUSD.String()+")")
	}
	return net, nil
}
