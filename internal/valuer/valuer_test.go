package valuer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/types"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type stubOracle struct {
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func (s *stubOracle) Price(_ context.Context, token string, _ time.Time) (decimal.Decimal, error) {
	if err, ok := s.errs[token]; ok {
		return decimal.Zero, err
	}
	return s.prices[token], nil
}

type stubPositions struct {
	positions map[string]LendingPosition
}

func (s *stubPositions) Position(_ context.Context, handle string) (LendingPosition, error) {
	return s.positions[handle], nil
}

type stubPools struct {
	positions map[string]PoolPosition
}

func (s *stubPools) PoolPosition(_ context.Context, handle string) (PoolPosition, error) {
	return s.positions[handle], nil
}

type stubDirectory struct {
	statuses map[string]types.VaultStatus
	ratios   map[string]decimal.Decimal
}

func (s *stubDirectory) VaultStatus(vaultID string) (types.VaultStatus, error) {
	return s.statuses[vaultID], nil
}

func (s *stubDirectory) VaultShareRatio(vaultID string, _ time.Time) (decimal.Decimal, error) {
	return s.ratios[vaultID], nil
}

func TestLendingValuerSignedNet(t *testing.T) {
	oracle := &stubOracle{prices: map[string]decimal.Decimal{"WETH": dec("2000"), "USDC": dec("1")}}
	positions := &stubPositions{positions: map[string]LendingPosition{
		"pos-healthy": {
			CollateralToken: "WETH", CollateralAmount: dec("2"),
			DebtToken: "USDC", DebtAmount: dec("1000"),
		},
		"pos-underwater": {
			CollateralToken: "WETH", CollateralAmount: dec("0"),
			DebtToken: "USDC", DebtAmount: dec("500"),
		},
	}}

	v := NewLendingValuer(positions, oracle, false)
	ctx := context.Background()
	now := time.Now()

	got, err := v.Value(ctx, types.Holding{TypeID: "lending:1", Kind: types.KindLending, Handle: "pos-healthy"}, now)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("3000")), "got %s", got)

	// Zero collateral with positive debt is a liability: genuinely negative,
	// never clamped to zero.
	got, err = v.Value(ctx, types.Holding{TypeID: "lending:2", Kind: types.KindLending, Handle: "pos-underwater"}, now)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("-500")), "got %s", got)
}

func TestLendingValuerRejectsUnderwaterWhenConfigured(t *testing.T) {
	oracle := &stubOracle{prices: map[string]decimal.Decimal{"WETH": dec("2000"), "USDC": dec("1")}}
	positions := &stubPositions{positions: map[string]LendingPosition{
		"pos-underwater": {
			CollateralToken: "WETH", CollateralAmount: dec("0"),
			DebtToken: "USDC", DebtAmount: dec("500"),
		},
	}}

	v := NewLendingValuer(positions, oracle, true)
	_, err := v.Value(context.Background(),
		types.Holding{TypeID: "lending:2", Kind: types.KindLending, Handle: "pos-underwater"}, time.Now())
	assert.True(t, errors.HasCode(err, errors.CodeValuationRejected))
}

func TestZeroPriceRejected(t *testing.T) {
	oracle := &stubOracle{prices: map[string]decimal.Decimal{"USDC": dec("0")}}
	v := NewPrincipalValuer(oracle)
	_, err := v.Value(context.Background(),
		types.Holding{TypeID: "principal:USDC", Kind: types.KindPrincipal, Units: dec("100"), Handle: "USDC"}, time.Now())
	assert.True(t, errors.HasCode(err, errors.CodeOracleError),
		"a zero price must be invalid, not a tradeable value")
}

func TestLiquidityValuerSumsBothSidesAndFees(t *testing.T) {
	oracle := &stubOracle{prices: map[string]decimal.Decimal{"WETH": dec("2000"), "USDC": dec("1")}}
	pools := &stubPools{positions: map[string]PoolPosition{
		"pos-7": {
			Token0: "WETH", Amount0: dec("1"), FeesOwed0: dec("0.1"),
			Token1: "USDC", Amount1: dec("500"), FeesOwed1: dec("20"),
		},
	}}

	v := NewLiquidityValuer(pools, oracle)
	got, err := v.Value(context.Background(),
		types.Holding{TypeID: "clmm:7", Kind: types.KindConcentratedLiquidity, Handle: "pos-7"}, time.Now())
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("2720")), "got %s", got)
}

func TestReceiptValuerRequiresNormalIssuer(t *testing.T) {
	dir := &stubDirectory{
		statuses: map[string]types.VaultStatus{
			"vault-2": types.StatusDuringOperation,
			"vault-3": types.StatusNormal,
		},
		ratios: map[string]decimal.Decimal{"vault-3": dec("1.05")},
	}
	v := NewReceiptValuer(dir)
	ctx := context.Background()
	now := time.Now()

	_, err := v.Value(ctx, types.Holding{TypeID: "receipt:2", Kind: types.KindReceipt, Units: dec("100"), Handle: "vault-2"}, now)
	assert.True(t, errors.HasCode(err, errors.CodeValuationRejected))

	got, err := v.Value(ctx, types.Holding{TypeID: "receipt:3", Kind: types.KindReceipt, Units: dec("100"), Handle: "vault-3"}, now)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("105")))
}

func TestRegistryDispatchUnknownKind(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Value(context.Background(),
		types.Holding{TypeID: "x", Kind: types.AssetKind("mystery")}, time.Now())
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))
}
