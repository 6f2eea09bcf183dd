package adapter

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/valuer"
)

// LendingAdapter resolves lending position handles against on-chain
// interest-bearing and debt token contracts. A handle names the position's
// collateral token, debt token, and the strategy account holding both:
//
//	<collateralToken>:<debtToken>:<account>
//
// Collateral and debt balances are read live from the token contracts; the
// token symbols key the oracle price lookup downstream.
type LendingAdapter struct {
	tokens *TokenReader
}

// NewLendingAdapter creates a lending adapter over the given token reader
func NewLendingAdapter(tokens *TokenReader) *LendingAdapter {
	return &LendingAdapter{tokens: tokens}
}

// Position resolves a lending position from its handle
func (a *LendingAdapter) Position(ctx context.Context, handle string) (valuer.LendingPosition, error) {
	collateralAddr, debtAddr, account, err := parseLendingHandle(handle)
	if err != nil {
		return valuer.LendingPosition{}, err
	}

	collateralAmount, err := a.tokens.Balance(ctx, collateralAddr, account)
	if err != nil {
		return valuer.LendingPosition{}, err
	}
	collateralSymbol, err := a.tokens.Symbol(ctx, collateralAddr)
	if err != nil {
		return valuer.LendingPosition{}, err
	}

	debtAmount, err := a.tokens.Balance(ctx, debtAddr, account)
	if err != nil {
		return valuer.LendingPosition{}, err
	}
	debtSymbol, err := a.tokens.Symbol(ctx, debtAddr)
	if err != nil {
		return valuer.LendingPosition{}, err
	}

	return valuer.LendingPosition{
		CollateralToken:  collateralSymbol,
		CollateralAmount: collateralAmount,
		DebtToken:        debtSymbol,
		DebtAmount:       debtAmount,
	}, nil
}

func parseLendingHandle(handle string) (collateral, debt common.Address, account common.Address, err error) {
	parts := strings.Split(handle, ":")
	if len(parts) != 3 {
		return common.Address{}, common.Address{}, common.Address{},
			errors.NewInvalidParameterError("handle", "expected <collateralToken>:<debtToken>:<account>")
	}
	for _, p := range parts {
		if !common.IsHexAddress(p) {
			return common.Address{}, common.Address{}, common.Address{},
				errors.NewInvalidParameterError("handle", "not a hex address: "+p)
		}
	}
	return common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), common.HexToAddress(parts[2]), nil
}
