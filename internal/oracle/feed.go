// Package oracle reads USD prices from Chainlink-style on-chain
// aggregators, with RPC failover, circuit breaking, and an optional
// Redis cache in front.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/circuitbreaker"
	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/logging"
)

// Aggregator function selectors
var (
	// latestRoundData()
	selectorLatestRoundData = common.Hex2Bytes("feaf968c")
	// decimals()
	selectorDecimals = common.Hex2Bytes("313ce567")
)

const wordSize = 32

// FeedOracle reads prices from Chainlink-style aggregator contracts.
// One aggregator per token symbol; answers are validated for sign and
// freshness before they are trusted.
type FeedOracle struct {
	pool        *Pool
	feeds       map[string]common.Address
	maxQuoteAge time.Duration
	breaker     *circuitbreaker.CircuitBreaker

	mu       sync.RWMutex
	decimals map[string]int32 // cached per token, immutable on-chain
}

// NewFeedOracle creates a feed oracle over the given RPC pool.
// feeds maps token symbols to aggregator contract addresses.
func NewFeedOracle(pool *Pool, feeds map[string]string, maxQuoteAge time.Duration) *FeedOracle {
	addrs := make(map[string]common.Address, len(feeds))
	for token, addr := range feeds {
		addrs[token] = common.HexToAddress(addr)
	}
	return &FeedOracle{
		pool:        pool,
		feeds:       addrs,
		maxQuoteAge: maxQuoteAge,
		breaker:     circuitbreaker.New(circuitbreaker.DefaultConfig("price-feeds")),
		decimals:    make(map[string]int32),
	}
}

// Price returns the USD price for a token symbol.
// Fails with an oracle error for unknown tokens, dead RPC endpoints,
// non-positive answers, and answers older than the quote age bound.
func (o *FeedOracle) Price(ctx context.Context, token string, now time.Time) (decimal.Decimal, error) {
	addr, ok := o.feeds[token]
	if !ok {
		return decimal.Zero, errors.NewOracleError(token, "no price feed configured", nil)
	}

	var price decimal.Decimal
	err := o.breaker.Execute(ctx, func() error {
		var callErr error
		price, callErr = o.readFeed(ctx, token, addr, now)
		return callErr
	})
	if err != nil {
		if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyRequests {
			return decimal.Zero, errors.NewOracleError(token, "price feed circuit open", err)
		}
		return decimal.Zero, err
	}

	return price, nil
}

func (o *FeedOracle) readFeed(ctx context.Context, token string, addr common.Address, now time.Time) (decimal.Decimal, error) {
	raw, err := o.call(ctx, addr, selectorLatestRoundData)
	if err != nil {
		return decimal.Zero, errors.NewOracleError(token, "latestRoundData call failed", err)
	}

	// (roundId, answer, startedAt, updatedAt, answeredInRound), 32 bytes each
	if len(raw) < 5*wordSize {
		return decimal.Zero, errors.NewOracleError(token,
			fmt.Sprintf("short aggregator response: %d bytes", len(raw)), nil)
	}

	answerWord := raw[1*wordSize : 2*wordSize]
	updatedAtWord := raw[3*wordSize : 4*wordSize]

	// answer is int256; a set sign bit means a negative answer, which no
	// USD feed legitimately reports
	if answerWord[0]&0x80 != 0 {
		return decimal.Zero, errors.NewOracleError(token, "negative feed answer", nil)
	}

	answer := new(big.Int).SetBytes(answerWord)
	if answer.Sign() == 0 {
		return decimal.Zero, errors.NewOracleError(token, "zero feed answer", nil)
	}

	updatedAt := time.Unix(new(big.Int).SetBytes(updatedAtWord).Int64(), 0)
	if age := now.Sub(updatedAt); o.maxQuoteAge > 0 && age > o.maxQuoteAge {
		return decimal.Zero, errors.NewOracleError(token,
			fmt.Sprintf("feed answer is %s old, bound is %s", age, o.maxQuoteAge), nil)
	}

	dec, err := o.feedDecimals(ctx, token, addr)
	if err != nil {
		return decimal.Zero, err
	}

	price := decimal.NewFromBigInt(answer, -dec)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"token":     token,
		"price":     price.String(),
		"updatedAt": updatedAt.UTC().Format(time.RFC3339),
	}).Debug("Read price feed")

	return price, nil
}

// feedDecimals reads and caches the aggregator's decimals
func (o *FeedOracle) feedDecimals(ctx context.Context, token string, addr common.Address) (int32, error) {
	o.mu.RLock()
	dec, ok := o.decimals[token]
	o.mu.RUnlock()
	if ok {
		return dec, nil
	}

	raw, err := o.call(ctx, addr, selectorDecimals)
	if err != nil {
		return 0, errors.NewOracleError(token, "decimals call failed", err)
	}
	if len(raw) < wordSize {
		return 0, errors.NewOracleError(token, "short decimals response", nil)
	}

	dec = int32(new(big.Int).SetBytes(raw[:wordSize]).Int64())
	if dec < 0 || dec > 77 {
		return 0, errors.NewOracleError(token, fmt.Sprintf("implausible feed decimals %d", dec), nil)
	}

	o.mu.Lock()
	o.decimals[token] = dec
	o.mu.Unlock()

	return dec, nil
}

// call performs a read-only contract call, failing over to the next RPC
// endpoint once on error
func (o *FeedOracle) call(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &addr, Data: data}

	raw, err := o.pool.Client().CallContract(ctx, msg, nil)
	if err == nil {
		return raw, nil
	}

	if failErr := o.pool.Failover(); failErr != nil {
		return nil, err
	}

	return o.pool.Client().CallContract(ctx, msg, nil)
}
