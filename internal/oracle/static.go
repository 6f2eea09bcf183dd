package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
)

// StaticOracle serves fixed prices from memory. Used in tests and for
// pegged assets whose price never moves.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticOracle creates a static oracle with the given prices
func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	copied := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		copied[k] = v
	}
	return &StaticOracle{prices: copied}
}

// Price returns the configured price for a token
func (s *StaticOracle) Price(_ context.Context, token string, _ time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[token]
	if !ok {
		return decimal.Zero, errors.NewOracleError(token, "no price configured", nil)
	}
	return price, nil
}

// SetPrice sets or updates a price
func (s *StaticOracle) SetPrice(token string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[token] = price
}
