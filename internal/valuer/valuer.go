// Package valuer provides USD valuation for each tracked asset kind.
//
// Valuers return signed values. An underwater position (debt above
// collateral) is either rejected outright or reported as a genuinely
// negative contribution; it is never clamped to zero, because a zero
// hides a liability from the ledger sum.
package valuer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/types"
)

// PriceOracle returns a USD price for one fungible token with a freshness
// bound. Implementations must fail on quotes older than the bound; callers
// must treat zero or negative answers as invalid, never as tradeable values.
type PriceOracle interface {
	Price(ctx context.Context, token string, now time.Time) (decimal.Decimal, error)
}

// AssetValuer returns the signed USD value of one holding
type AssetValuer interface {
	Value(ctx context.Context, holding types.Holding, now time.Time) (decimal.Decimal, error)
}

// Registry dispatches holdings to the valuer for their kind.
// The kind set is closed; dispatch is by tag, not type-name matching.
type Registry struct {
	valuers map[types.AssetKind]AssetValuer
}

// NewRegistry creates an empty valuer registry
func NewRegistry() *Registry {
	return &Registry{valuers: make(map[types.AssetKind]AssetValuer)}
}

// RegisterKind binds a valuer to an asset kind
func (r *Registry) RegisterKind(kind types.AssetKind, v AssetValuer) {
	r.valuers[kind] = v
}

// Value resolves the holding's kind and delegates to its valuer
func (r *Registry) Value(ctx context.Context, holding types.Holding, now time.Time) (decimal.Decimal, error) {
	v, ok := r.valuers[holding.Kind]
	if !ok {
		return decimal.Zero, errors.NewInvalidParameterError("kind", "no valuer registered for "+string(holding.Kind))
	}
	return v.Value(ctx, holding, now)
}

// validatePrice guards downstream math against invalid oracle answers
func validatePrice(token string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return errors.NewOracleError(token, "zero or negative price", nil)
	}
	return nil
}
