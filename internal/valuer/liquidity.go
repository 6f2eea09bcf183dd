package valuer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/fixedpoint"
	"github.com/vault-engine/internal/types"
)

// PoolPosition is one concentrated-liquidity position, decomposed into the
// token amounts currently backing it plus uncollected fees.
type PoolPosition struct {
	Token0      string
	Amount0     decimal.Decimal
	Token1      string
	Amount1     decimal.Decimal
	FeesOwed0   decimal.Decimal
	FeesOwed1   decimal.Decimal
}

// PoolReader resolves a pool position from its strategy-side handle
type PoolReader interface {
	PoolPosition(ctx context.Context, handle string) (PoolPosition, error)
}

// LiquidityValuer values concentrated-liquidity positions as the sum of both
// token sides (principal plus fees) at oracle prices.
type LiquidityValuer struct {
	pools  PoolReader
	oracle PriceOracle
}

// NewLiquidityValuer creates a concentrated-liquidity valuer
func NewLiquidityValuer(pools PoolReader, oracle PriceOracle) *LiquidityValuer {
	return &LiquidityValuer{pools: pools, oracle: oracle}
}

// Value returns the USD value of the position's token amounts and fees
func (v *LiquidityValuer) Value(ctx context.Context, holding types.Holding, now time.Time) (decimal.Decimal, error) {
	pos, err := v.pools.PoolPosition(ctx, holding.Handle)
	if err != nil {
		return decimal.Zero, err
	}

	price0, err := v.oracle.Price(ctx, pos.Token0, now)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validatePrice(pos.Token0, price0); err != nil {
		return decimal.Zero, err
	}

	price1, err := v.oracle.Price(ctx, pos.Token1, now)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validatePrice(pos.Token1, price1); err != nil {
		return decimal.Zero, err
	}

	side0 := fixedpoint.MulPrice(pos.Amount0.Add(pos.FeesOwed0), price0)
	side1 := fixedpoint.MulPrice(pos.Amount1.Add(pos.FeesOwed1), price1)
	return side0.Add(side1).Truncate(fixedpoint.ValueScale), nil
}
