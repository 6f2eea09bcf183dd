package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
)

// CacheService caches derived vault reads in Redis: the share ratio and
// the total USD value. Both are invalidated together whenever a vault
// mutates, so a hit is always consistent with some committed snapshot.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

func shareRatioKey(vaultID string) string {
	return fmt.Sprintf("vault:%s:ratio", vaultID)
}

func totalValueKey(vaultID string) string {
	return fmt.Sprintf("vault:%s:total", vaultID)
}

// SetShareRatio caches a vault's share ratio
func (c *CacheService) SetShareRatio(ctx context.Context, vaultID string, ratio decimal.Decimal) error {
	if err := c.redis.Set(ctx, shareRatioKey(vaultID), ratio.String(), c.ttl); err != nil {
		return errors.NewCacheError("set share ratio", err)
	}
	return nil
}

// GetShareRatio returns the cached share ratio.
// The bool result reports whether the cache held a value.
func (c *CacheService) GetShareRatio(ctx context.Context, vaultID string) (decimal.Decimal, bool, error) {
	return c.getDecimal(ctx, shareRatioKey(vaultID))
}

// SetTotalValue caches a vault's total USD value
func (c *CacheService) SetTotalValue(ctx context.Context, vaultID string, total decimal.Decimal) error {
	if err := c.redis.Set(ctx, totalValueKey(vaultID), total.String(), c.ttl); err != nil {
		return errors.NewCacheError("set total value", err)
	}
	return nil
}

// GetTotalValue returns the cached total USD value
func (c *CacheService) GetTotalValue(ctx context.Context, vaultID string) (decimal.Decimal, bool, error) {
	return c.getDecimal(ctx, totalValueKey(vaultID))
}

// InvalidateVault drops every cached read for a vault
func (c *CacheService) InvalidateVault(ctx context.Context, vaultID string) error {
	if err := c.redis.Del(ctx, shareRatioKey(vaultID), totalValueKey(vaultID)); err != nil {
		return errors.NewCacheError("invalidate vault", err)
	}
	return nil
}

func (c *CacheService) getDecimal(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, errors.NewCacheError("get "+key, err)
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		// A corrupt entry is a miss, not a failure
		return decimal.Zero, false, nil
	}

	return value, true, nil
}
