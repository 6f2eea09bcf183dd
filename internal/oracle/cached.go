package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/logging"
	"github.com/vault-engine/internal/valuer"
)

// CachedOracle caches prices from an inner oracle in Redis. Cache
// trouble degrades to a direct read, it never fails a valuation.
type CachedOracle struct {
	inner valuer.PriceOracle
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedOracle wraps an oracle with a Redis cache
func NewCachedOracle(inner valuer.PriceOracle, client *redis.Client, ttl time.Duration) *CachedOracle {
	return &CachedOracle{
		inner: inner,
		redis: client,
		ttl:   ttl,
	}
}

func priceKey(token string) string {
	return fmt.Sprintf("price:%s", token)
}

// Price returns the cached price when fresh, otherwise reads through to
// the inner oracle and caches the result
func (c *CachedOracle) Price(ctx context.Context, token string, now time.Time) (decimal.Decimal, error) {
	logger := logging.FromContext(ctx)

	cached, err := c.redis.Get(ctx, priceKey(token)).Result()
	if err == nil {
		price, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			return price, nil
		}
		logger.WithError(parseErr).Warnf("Corrupt cached price for %s, reading through", token)
	} else if err != redis.Nil {
		logger.WithError(err).Warnf("Price cache read failed for %s, reading through", token)
	}

	price, err := c.inner.Price(ctx, token, now)
	if err != nil {
		return decimal.Zero, err
	}

	if setErr := c.redis.Set(ctx, priceKey(token), price.String(), c.ttl).Err(); setErr != nil {
		logger.WithError(setErr).Warnf("Price cache write failed for %s", token)
	}

	return price, nil
}

// Invalidate drops the cached price for a token
func (c *CachedOracle) Invalidate(ctx context.Context, token string) error {
	return c.redis.Del(ctx, priceKey(token)).Err()
}
