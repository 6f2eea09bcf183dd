package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/types"
	"github.com/vault-engine/internal/valuer"
)

const (
	typePrincipal = types.AssetTypeID("principal:USDC")
	typeLendingX  = types.AssetTypeID("lending:aave:WETH")
	typePoolY     = types.AssetTypeID("clmm:uni:WETH-USDC")
)

// fixedValuer returns a preset value per asset type
type fixedValuer struct {
	values map[types.AssetTypeID]decimal.Decimal
	errs   map[types.AssetTypeID]error
}

func (f *fixedValuer) Value(_ context.Context, h types.Holding, _ time.Time) (decimal.Decimal, error) {
	if err, ok := f.errs[h.TypeID]; ok {
		return decimal.Zero, err
	}
	return f.values[h.TypeID], nil
}

// mockDirectory resolves cross-vault receipt checks
type mockDirectory struct {
	statuses map[string]types.VaultStatus
	ratios   map[string]decimal.Decimal
}

func (m *mockDirectory) VaultStatus(vaultID string) (types.VaultStatus, error) {
	if s, ok := m.statuses[vaultID]; ok {
		return s, nil
	}
	return "", errors.NewNotFoundError("vault", vaultID)
}

func (m *mockDirectory) VaultShareRatio(vaultID string, _ time.Time) (decimal.Decimal, error) {
	return m.ratios[vaultID], nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestVault(t *testing.T, now time.Time) *Vault {
	t.Helper()
	v, err := New(Config{
		ID:                "vault-1",
		PrincipalType:     typePrincipal,
		MaxStaleness:      time.Hour,
		ToleranceFraction: dec("0.01"),
		OperationTimeout:  24 * time.Hour,
	}, now)
	require.NoError(t, err)

	require.NoError(t, v.RegisterAsset(types.Holding{
		TypeID: typeLendingX, Kind: types.KindLending, Units: dec("10"), Handle: "aave:pos-1",
	}, now))
	require.NoError(t, v.RegisterAsset(types.Holding{
		TypeID: typePoolY, Kind: types.KindConcentratedLiquidity, Units: dec("1"), Handle: "uni:pos-7",
	}, now))
	return v
}

// seedValues refreshes every entry so the ledger total is fresh
func seedValues(t *testing.T, v *Vault, now time.Time, principal, lending, pool string) {
	t.Helper()
	require.NoError(t, v.RevalueAsset(typePrincipal, dec(principal), now))
	require.NoError(t, v.RevalueAsset(typeLendingX, dec(lending), now))
	require.NoError(t, v.RevalueAsset(typePoolY, dec(pool), now))
}

func registryWith(values map[types.AssetTypeID]decimal.Decimal, errs map[types.AssetTypeID]error) *valuer.Registry {
	fv := &fixedValuer{values: values, errs: errs}
	reg := valuer.NewRegistry()
	reg.RegisterKind(types.KindPrincipal, fv)
	reg.RegisterKind(types.KindLending, fv)
	reg.RegisterKind(types.KindConcentratedLiquidity, fv)
	reg.RegisterKind(types.KindReceipt, fv)
	return reg
}

// runOperation drives a full borrow/return/refresh cycle up to (not including) close
func runOperation(t *testing.T, v *Vault, now time.Time, afterValues map[types.AssetTypeID]decimal.Decimal) {
	t.Helper()
	borrowed, err := v.StartOperation([]types.AssetTypeID{typeLendingX, typePoolY}, now)
	require.NoError(t, err)
	require.Len(t, borrowed, 2)

	require.NoError(t, v.ReturnAssets(borrowed, now))

	reg := registryWith(afterValues, nil)
	ctx := context.Background()
	require.NoError(t, v.RefreshAssetValue(ctx, typeLendingX, reg, now))
	require.NoError(t, v.RefreshAssetValue(ctx, typePoolY, reg, now))
}

func TestStatusAndOperationRecordInvariant(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	_, exists := v.Operation()
	assert.False(t, exists)
	assert.Equal(t, types.StatusNormal, v.Status())

	_, err := v.StartOperation([]types.AssetTypeID{typeLendingX}, now)
	require.NoError(t, err)

	_, exists = v.Operation()
	assert.True(t, exists, "record must exist while during_operation")
	assert.Equal(t, types.StatusDuringOperation, v.Status())
}

func TestStartOperationRequiresNormalStatus(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	_, err := v.StartOperation([]types.AssetTypeID{typeLendingX}, now)
	require.NoError(t, err)

	// Second start while one is open
	_, err = v.StartOperation([]types.AssetTypeID{typePoolY}, now)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidState))
}

func TestStartOperationFailsOnStaleBaseline(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	// Two hours later every entry is older than the 1h window
	later := now.Add(2 * time.Hour)
	_, err := v.StartOperation([]types.AssetTypeID{typeLendingX}, later)
	assert.True(t, errors.HasCode(err, errors.CodeStaleValuation))
	assert.Equal(t, types.StatusNormal, v.Status(), "failed start must not flip status")
}

func TestPartialReturnFails(t *testing.T) {
	// Scenario A: borrow {X, Y}, return only {X}; the return itself must fail
	// and close must then fail as incomplete.
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	borrowed, err := v.StartOperation([]types.AssetTypeID{typeLendingX, typePoolY}, now)
	require.NoError(t, err)

	var onlyX []types.Holding
	for _, h := range borrowed {
		if h.TypeID == typeLendingX {
			onlyX = append(onlyX, h)
		}
	}
	err = v.ReturnAssets(onlyX, now)
	assert.True(t, errors.HasCode(err, errors.CodeConflict))

	err = v.CloseOperation(now)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidState), "close before return window opens")
}

func TestCloseRequiresCompleteRevaluation(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	borrowed, err := v.StartOperation([]types.AssetTypeID{typeLendingX, typePoolY}, now)
	require.NoError(t, err)
	require.NoError(t, v.ReturnAssets(borrowed, now))

	reg := registryWith(map[types.AssetTypeID]decimal.Decimal{
		typeLendingX: dec("300"),
	}, nil)
	require.NoError(t, v.RefreshAssetValue(context.Background(), typeLendingX, reg, now))

	err = v.CloseOperation(now)
	assert.True(t, errors.HasCode(err, errors.CodeIncompleteRevaluation))
}

func TestCloseFailsWhenLossExceedsTolerance(t *testing.T) {
	// Scenario B: baseline 1000, tolerance 1% (10), after 985 -> loss 15 fails
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")
	require.NoError(t, v.BeginEpoch(now))

	runOperation(t, v, now, map[types.AssetTypeID]decimal.Decimal{
		typeLendingX: dec("295"),
		typePoolY:    dec("290"),
	})

	err := v.CloseOperation(now)
	assert.True(t, errors.HasCode(err, errors.CodeLossLimitExceeded))
	assert.Equal(t, types.StatusDuringOperation, v.Status(), "failed close must not unlock the vault")
}

func TestCloseRecordsTolerableLoss(t *testing.T) {
	// Scenario C: baseline 1000, after 995 -> close succeeds, epoch loss 5
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")
	require.NoError(t, v.BeginEpoch(now))

	runOperation(t, v, now, map[types.AssetTypeID]decimal.Decimal{
		typeLendingX: dec("298"),
		typePoolY:    dec("297"),
	})

	require.NoError(t, v.CloseOperation(now))
	assert.Equal(t, types.StatusNormal, v.Status())
	assert.True(t, v.LossState().CurEpochLoss.Equal(dec("5")),
		"expected epoch loss 5, got %s", v.LossState().CurEpochLoss)

	_, exists := v.Operation()
	assert.False(t, exists, "record must be destroyed on close")
}

func TestAdminChangesRejectedDuringOperation(t *testing.T) {
	// Scenario D: set-loss-tolerance during an operation must fail
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	_, err := v.StartOperation([]types.AssetTypeID{typeLendingX}, now)
	require.NoError(t, err)

	err = v.SetLossTolerance(dec("0.5"))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidState))

	err = v.Disable()
	assert.True(t, errors.HasCode(err, errors.CodeInvalidState))

	err = v.BeginEpoch(now)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidState))
}

func TestDeregisterThenReregisterSucceeds(t *testing.T) {
	// Scenario E: deregistration must fully remove the ledger record so the
	// same type can come back.
	now := time.Now()
	v := newTestVault(t, now)

	require.NoError(t, v.DeregisterAsset(typePoolY))
	err := v.RegisterAsset(types.Holding{
		TypeID: typePoolY, Kind: types.KindConcentratedLiquidity, Units: dec("2"), Handle: "uni:pos-9",
	}, now)
	assert.NoError(t, err)
}

func TestRegisterSelfReceiptRejected(t *testing.T) {
	// A receipt whose handle is the vault's own id would have the vault
	// valuing itself through the directory.
	now := time.Now()
	v := newTestVault(t, now)

	err := v.RegisterAsset(types.Holding{
		TypeID: "receipt:self", Kind: types.KindReceipt, Units: dec("1"), Handle: "vault-1",
	}, now)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))

	err = v.RegisterAsset(types.Holding{
		TypeID: "receipt:other", Kind: types.KindReceipt, Units: dec("1"), Handle: "vault-2",
	}, now)
	assert.NoError(t, err)
}

func TestShareSupplyDriftFailsClose(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	runOperation(t, v, now, map[types.AssetTypeID]decimal.Decimal{
		typeLendingX: dec("300"),
		typePoolY:    dec("300"),
	})

	// Simulate drift: mint outside the request path
	v.shares.Mint(dec("1"))

	err := v.CloseOperation(now)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidState))
}

func TestReceiptBorrowBlockedWhenIssuerBusy(t *testing.T) {
	now := time.Now()
	dir := &mockDirectory{
		statuses: map[string]types.VaultStatus{"vault-2": types.StatusDuringOperation},
		ratios:   map[string]decimal.Decimal{"vault-2": dec("1.05")},
	}
	v, err := New(Config{
		ID: "vault-1", PrincipalType: typePrincipal,
		MaxStaleness: time.Hour, ToleranceFraction: dec("0.01"),
		OperationTimeout: 24 * time.Hour, Directory: dir,
	}, now)
	require.NoError(t, err)

	receiptType := types.AssetTypeID("receipt:vault-2")
	require.NoError(t, v.RegisterAsset(types.Holding{
		TypeID: receiptType, Kind: types.KindReceipt, Units: dec("100"), Handle: "vault-2",
	}, now))
	require.NoError(t, v.RevalueAsset(typePrincipal, dec("100"), now))
	require.NoError(t, v.RevalueAsset(receiptType, dec("105"), now))

	_, err = v.StartOperation([]types.AssetTypeID{receiptType}, now)
	assert.True(t, errors.HasCode(err, errors.CodeConflict),
		"borrowing a receipt of a busy vault must fail at start")
}

func TestForceReleaseOperation(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	borrowed, err := v.StartOperation([]types.AssetTypeID{typeLendingX}, now)
	require.NoError(t, err)

	// Too early
	err = v.ForceReleaseOperation(now.Add(time.Hour))
	assert.True(t, errors.HasCode(err, errors.CodeConflict))

	// After the timeout but assets still out
	err = v.ForceReleaseOperation(now.Add(25 * time.Hour))
	assert.True(t, errors.HasCode(err, errors.CodeConflict))

	// Returned but never closed: recoverable
	require.NoError(t, v.ReturnAssets(borrowed, now.Add(time.Hour)))
	require.NoError(t, v.ForceReleaseOperation(now.Add(25*time.Hour)))
	assert.Equal(t, types.StatusNormal, v.Status())
}

func TestRefreshRejectedForUnborrowedType(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	borrowed, err := v.StartOperation([]types.AssetTypeID{typeLendingX}, now)
	require.NoError(t, err)
	require.NoError(t, v.ReturnAssets(borrowed, now))

	reg := registryWith(map[types.AssetTypeID]decimal.Decimal{typePoolY: dec("300")}, nil)
	err = v.RefreshAssetValue(context.Background(), typePoolY, reg, now)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))
}

func TestValuationRejectedPropagates(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	borrowed, err := v.StartOperation([]types.AssetTypeID{typeLendingX}, now)
	require.NoError(t, err)
	require.NoError(t, v.ReturnAssets(borrowed, now))

	reg := registryWith(nil, map[types.AssetTypeID]error{
		typeLendingX: errors.NewValuationRejectedError(typeLendingX, "underwater"),
	})
	err = v.RefreshAssetValue(context.Background(), typeLendingX, reg, now)
	assert.True(t, errors.HasCode(err, errors.CodeValuationRejected))

	rec, _ := v.Operation()
	assert.False(t, rec.RevaluedTypes.Contains(typeLendingX), "rejected refresh must not mark the type revalued")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	now := time.Now()
	v := newTestVault(t, now)
	seedValues(t, v, now, "400", "300", "300")

	_, err := v.SubmitDeposit("alice", dec("50"), now)
	require.NoError(t, err)
	_, err = v.StartOperation([]types.AssetTypeID{typeLendingX}, now)
	require.NoError(t, err)

	st := v.Snapshot()
	restored := Restore(st, nil)

	assert.Equal(t, v.Status(), restored.Status())
	assert.True(t, v.TotalShares().Equal(restored.TotalShares()))
	rec, ok := restored.Operation()
	require.True(t, ok)
	assert.True(t, rec.BorrowedTypes.Contains(typeLendingX))
	assert.Len(t, restored.Receipts(), 1)

	total, err := restored.TotalValue(now)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("1000")))
}
