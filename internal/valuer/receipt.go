package valuer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/fixedpoint"
	"github.com/vault-engine/internal/types"
)

// VaultDirectory resolves other vaults for cross-vault receipt valuation
type VaultDirectory interface {
	VaultStatus(vaultID string) (types.VaultStatus, error)
	VaultShareRatio(vaultID string, now time.Time) (decimal.Decimal, error)
}

// ReceiptValuer values receipt tokens issued by another vault at that vault's
// share ratio. Valuing a receipt requires the issuing vault to be in normal
// status: while it has an operation open its own ledger is mid-revaluation
// and its ratio cannot be trusted. The engine also rejects borrowing such a
// receipt at start time so the dependency surfaces early, not at revaluation.
type ReceiptValuer struct {
	directory VaultDirectory
}

// NewReceiptValuer creates a cross-vault receipt valuer
func NewReceiptValuer(directory VaultDirectory) *ReceiptValuer {
	return &ReceiptValuer{directory: directory}
}

// Value returns units * issuing vault's share ratio
func (v *ReceiptValuer) Value(ctx context.Context, holding types.Holding, now time.Time) (decimal.Decimal, error) {
	status, err := v.directory.VaultStatus(holding.Handle)
	if err != nil {
		return decimal.Zero, err
	}
	if status != types.StatusNormal {
		return decimal.Zero, errors.NewValuationRejectedError(holding.TypeID,
			"issuing vault "+holding.Handle+" is "+string(status))
	}

	ratio, err := v.directory.VaultShareRatio(holding.Handle, now)
	if err != nil {
		return decimal.Zero, err
	}
	return fixedpoint.Mul(holding.Units, ratio), nil
}
