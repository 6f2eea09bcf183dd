// Package adapter resolves strategy-side position handles into token
// balances by reading custody and position-token contracts over RPC.
package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/oracle"
)

// ERC-20 function selectors
var (
	// balanceOf(address)
	selectorBalanceOf = common.Hex2Bytes("70a08231")
	// decimals()
	selectorDecimals = common.Hex2Bytes("313ce567")
	// symbol()
	selectorSymbol = common.Hex2Bytes("95d89b41")
)

const wordSize = 32

// tokenMeta is the immutable on-chain metadata of one token contract
type tokenMeta struct {
	symbol   string
	decimals int32
}

// TokenReader reads ERC-20 balances and metadata over an RPC pool.
// Symbol and decimals are cached per contract; balances never are.
type TokenReader struct {
	pool *oracle.Pool

	mu   sync.RWMutex
	meta map[common.Address]tokenMeta
}

// NewTokenReader creates a token reader over the given RPC pool
func NewTokenReader(pool *oracle.Pool) *TokenReader {
	return &TokenReader{
		pool: pool,
		meta: make(map[common.Address]tokenMeta),
	}
}

// Balance returns the holder's balance scaled by the token's decimals
func (r *TokenReader) Balance(ctx context.Context, token, holder common.Address) (decimal.Decimal, error) {
	data := make([]byte, 0, len(selectorBalanceOf)+wordSize)
	data = append(data, selectorBalanceOf...)
	data = append(data, common.LeftPadBytes(holder.Bytes(), wordSize)...)

	raw, err := r.call(ctx, token, data)
	if err != nil {
		return decimal.Zero, errors.NewOracleError(token.Hex(), "balanceOf call failed", err)
	}
	if len(raw) < wordSize {
		return decimal.Zero, errors.NewOracleError(token.Hex(),
			fmt.Sprintf("short balanceOf response: %d bytes", len(raw)), nil)
	}

	meta, err := r.Meta(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}

	units := new(big.Int).SetBytes(raw[:wordSize])
	return decimal.NewFromBigInt(units, -meta.decimals), nil
}

// Symbol returns the token's symbol
func (r *TokenReader) Symbol(ctx context.Context, token common.Address) (string, error) {
	meta, err := r.Meta(ctx, token)
	if err != nil {
		return "", err
	}
	return meta.symbol, nil
}

// Meta reads and caches the token's symbol and decimals
func (r *TokenReader) Meta(ctx context.Context, token common.Address) (tokenMeta, error) {
	r.mu.RLock()
	meta, ok := r.meta[token]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	rawDec, err := r.call(ctx, token, selectorDecimals)
	if err != nil {
		return tokenMeta{}, errors.NewOracleError(token.Hex(), "decimals call failed", err)
	}
	if len(rawDec) < wordSize {
		return tokenMeta{}, errors.NewOracleError(token.Hex(), "short decimals response", nil)
	}
	dec := int32(new(big.Int).SetBytes(rawDec[:wordSize]).Int64())
	if dec < 0 || dec > 77 {
		return tokenMeta{}, errors.NewOracleError(token.Hex(),
			fmt.Sprintf("implausible token decimals %d", dec), nil)
	}

	rawSym, err := r.call(ctx, token, selectorSymbol)
	if err != nil {
		return tokenMeta{}, errors.NewOracleError(token.Hex(), "symbol call failed", err)
	}
	symbol, err := decodeString(rawSym)
	if err != nil {
		return tokenMeta{}, errors.NewOracleError(token.Hex(), "malformed symbol response", err)
	}

	meta = tokenMeta{symbol: symbol, decimals: dec}

	r.mu.Lock()
	r.meta[token] = meta
	r.mu.Unlock()

	return meta, nil
}

// call performs a read-only contract call, failing over to the next RPC
// endpoint once on error
func (r *TokenReader) call(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &addr, Data: data}

	raw, err := r.pool.Client().CallContract(ctx, msg, nil)
	if err == nil {
		return raw, nil
	}

	if failErr := r.pool.Failover(); failErr != nil {
		return nil, err
	}

	return r.pool.Client().CallContract(ctx, msg, nil)
}

// decodeString decodes an ABI-encoded dynamic string return value
func decodeString(raw []byte) (string, error) {
	if len(raw) < 2*wordSize {
		return "", fmt.Errorf("response too short for dynamic string: %d bytes", len(raw))
	}

	offset := new(big.Int).SetBytes(raw[:wordSize]).Int64()
	if offset < 0 || offset+wordSize > int64(len(raw)) {
		return "", fmt.Errorf("string offset %d out of range", offset)
	}

	length := new(big.Int).SetBytes(raw[offset : offset+wordSize]).Int64()
	start := offset + wordSize
	if length < 0 || start+length > int64(len(raw)) {
		return "", fmt.Errorf("string length %d out of range", length)
	}

	return strings.TrimRight(string(raw[start:start+length]), "\x00"), nil
}
