package adapter

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/valuer"
)

// PoolAdapter resolves concentrated-liquidity position handles. A handle
// names the pool's two tokens and the strategy account whose side balances
// back the position:
//
//	<token0>:<token1>:<account>
//
// The strategy contracts this adapter targets collect fees back into the
// side balances on every touch, so uncollected fees are reported as zero.
type PoolAdapter struct {
	tokens *TokenReader
}

// NewPoolAdapter creates a pool adapter over the given token reader
func NewPoolAdapter(tokens *TokenReader) *PoolAdapter {
	return &PoolAdapter{tokens: tokens}
}

// PoolPosition resolves a pool position from its handle
func (a *PoolAdapter) PoolPosition(ctx context.Context, handle string) (valuer.PoolPosition, error) {
	token0Addr, token1Addr, account, err := parsePoolHandle(handle)
	if err != nil {
		return valuer.PoolPosition{}, err
	}

	amount0, err := a.tokens.Balance(ctx, token0Addr, account)
	if err != nil {
		return valuer.PoolPosition{}, err
	}
	symbol0, err := a.tokens.Symbol(ctx, token0Addr)
	if err != nil {
		return valuer.PoolPosition{}, err
	}

	amount1, err := a.tokens.Balance(ctx, token1Addr, account)
	if err != nil {
		return valuer.PoolPosition{}, err
	}
	symbol1, err := a.tokens.Symbol(ctx, token1Addr)
	if err != nil {
		return valuer.PoolPosition{}, err
	}

	return valuer.PoolPosition{
		Token0:    symbol0,
		Amount0:   amount0,
		Token1:    symbol1,
		Amount1:   amount1,
		FeesOwed0: decimal.Zero,
		FeesOwed1: decimal.Zero,
	}, nil
}

func parsePoolHandle(handle string) (token0, token1, account common.Address, err error) {
	parts := strings.Split(handle, ":")
	if len(parts) != 3 {
		return common.Address{}, common.Address{}, common.Address{},
			errors.NewInvalidParameterError("handle", "expected <token0>:<token1>:<account>")
	}
	for _, p := range parts {
		if !common.IsHexAddress(p) {
			return common.Address{}, common.Address{}, common.Address{},
				errors.NewInvalidParameterError("handle", "not a hex address: "+p)
		}
	}
	return common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), common.HexToAddress(parts[2]), nil
}
