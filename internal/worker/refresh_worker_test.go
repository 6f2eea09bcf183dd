package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/service"
	"github.com/vault-engine/internal/types"
)

// mockRefresher is a hand-rolled mock of VaultRefresher
type mockRefresher struct {
	views     map[string]*service.VaultView
	refreshed []string
	failType  types.AssetTypeID
}

func newMockRefresher() *mockRefresher {
	return &mockRefresher{views: make(map[string]*service.VaultView)}
}

func (m *mockRefresher) VaultIDs() []string {
	ids := make([]string, 0, len(m.views))
	for id := range m.views {
		ids = append(ids, id)
	}
	return ids
}

func (m *mockRefresher) GetVault(_ context.Context, vaultID string) (*service.VaultView, error) {
	view, ok := m.views[vaultID]
	if !ok {
		return nil, errors.NewNotFoundError("vault", vaultID)
	}
	return view, nil
}

func (m *mockRefresher) RefreshAssetValue(_ context.Context, vaultID string, typeID types.AssetTypeID) error {
	if typeID == m.failType {
		return errors.NewOracleError(string(typeID), "feed unavailable", nil)
	}
	m.refreshed = append(m.refreshed, vaultID+"/"+string(typeID))
	return nil
}

func TestStalenessQueueOrdersStalestFirst(t *testing.T) {
	now := time.Now()
	q := NewStalenessQueue()
	q.Rebuild([]RefreshTarget{
		{VaultID: "v1", TypeID: "a", LastUpdated: now.Add(-time.Minute)},
		{VaultID: "v1", TypeID: "b", LastUpdated: now.Add(-time.Hour)},
		{VaultID: "v2", TypeID: "c", LastUpdated: now.Add(-10 * time.Minute)},
	})

	taken := q.Take(2)
	require.Len(t, taken, 2)
	assert.Equal(t, types.AssetTypeID("b"), taken[0].TypeID)
	assert.Equal(t, types.AssetTypeID("c"), taken[1].TypeID)
	assert.Equal(t, 1, q.Len())
}

func TestStalenessQueueTakeBeyondLength(t *testing.T) {
	q := NewStalenessQueue()
	q.Rebuild([]RefreshTarget{{VaultID: "v1", TypeID: "a"}})

	taken := q.Take(10)
	assert.Len(t, taken, 1)
	assert.Equal(t, 0, q.Len())
}

func TestOlderThanFiltersFreshEntries(t *testing.T) {
	now := time.Now()
	targets := []RefreshTarget{
		{TypeID: "fresh", LastUpdated: now.Add(-time.Second)},
		{TypeID: "stale", LastUpdated: now.Add(-time.Hour)},
	}

	due := OlderThan(targets, time.Minute, now)
	require.Len(t, due, 1)
	assert.Equal(t, types.AssetTypeID("stale"), due[0].TypeID)
}

func TestRunCycleRefreshesOnlyDueEntries(t *testing.T) {
	now := time.Now().UTC()
	refresher := newMockRefresher()
	refresher.views["vault-1"] = &service.VaultView{
		ID:     "vault-1",
		Status: types.StatusNormal,
		Entries: []types.AssetEntry{
			{TypeID: "principal:USDC", Kind: types.KindPrincipal, LastUpdated: now.Add(-time.Hour)},
			{TypeID: "lending:aave", Kind: types.KindLending, LastUpdated: now.Add(-time.Hour)},
			{TypeID: "clp:uni", Kind: types.KindConcentratedLiquidity, LastUpdated: now},
		},
	}

	w, err := NewRefreshWorker(&RefreshWorkerConfig{
		Vaults:    refresher,
		Threshold: time.Minute,
	})
	require.NoError(t, err)

	refreshed, errs := w.RunCycle(context.Background())

	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 0, errs)
	// Principal never hits the oracle; the fresh entry is not yet due
	assert.Equal(t, []string{"vault-1/lending:aave"}, refresher.refreshed)
}

func TestRunCycleSkipsDisabledVaults(t *testing.T) {
	now := time.Now().UTC()
	refresher := newMockRefresher()
	refresher.views["vault-1"] = &service.VaultView{
		ID:     "vault-1",
		Status: types.StatusDisabled,
		Entries: []types.AssetEntry{
			{TypeID: "lending:aave", Kind: types.KindLending, LastUpdated: now.Add(-time.Hour)},
		},
	}

	w, err := NewRefreshWorker(&RefreshWorkerConfig{
		Vaults:    refresher,
		Threshold: time.Minute,
	})
	require.NoError(t, err)

	refreshed, errs := w.RunCycle(context.Background())

	assert.Equal(t, 0, refreshed)
	assert.Equal(t, 0, errs)
}

func TestRunCycleCapsOracleReads(t *testing.T) {
	now := time.Now().UTC()
	refresher := newMockRefresher()
	refresher.views["vault-1"] = &service.VaultView{
		ID:     "vault-1",
		Status: types.StatusNormal,
		Entries: []types.AssetEntry{
			{TypeID: "lending:a", Kind: types.KindLending, LastUpdated: now.Add(-3 * time.Hour)},
			{TypeID: "lending:b", Kind: types.KindLending, LastUpdated: now.Add(-2 * time.Hour)},
			{TypeID: "lending:c", Kind: types.KindLending, LastUpdated: now.Add(-time.Hour)},
		},
	}

	w, err := NewRefreshWorker(&RefreshWorkerConfig{
		Vaults:      refresher,
		Threshold:   time.Minute,
		MaxPerCycle: 2,
	})
	require.NoError(t, err)

	refreshed, _ := w.RunCycle(context.Background())

	assert.Equal(t, 2, refreshed)
	// Stalest entries consume the budget first
	assert.Equal(t, []string{"vault-1/lending:a", "vault-1/lending:b"}, refresher.refreshed)
}

func TestRunCycleCountsFailures(t *testing.T) {
	now := time.Now().UTC()
	refresher := newMockRefresher()
	refresher.failType = "lending:broken"
	refresher.views["vault-1"] = &service.VaultView{
		ID:     "vault-1",
		Status: types.StatusNormal,
		Entries: []types.AssetEntry{
			{TypeID: "lending:broken", Kind: types.KindLending, LastUpdated: now.Add(-2 * time.Hour)},
			{TypeID: "lending:ok", Kind: types.KindLending, LastUpdated: now.Add(-time.Hour)},
		},
	}

	w, err := NewRefreshWorker(&RefreshWorkerConfig{
		Vaults:    refresher,
		Threshold: time.Minute,
	})
	require.NoError(t, err)

	refreshed, errs := w.RunCycle(context.Background())

	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 1, errs)
}

func TestNewRefreshWorkerValidation(t *testing.T) {
	_, err := NewRefreshWorker(&RefreshWorkerConfig{Threshold: time.Minute})
	assert.Error(t, err)

	_, err = NewRefreshWorker(&RefreshWorkerConfig{Vaults: newMockRefresher()})
	assert.Error(t, err)
}

func TestRefreshWorkerStartStop(t *testing.T) {
	w, err := NewRefreshWorker(&RefreshWorkerConfig{
		Vaults:       newMockRefresher(),
		Threshold:    time.Minute,
		PollInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx), "second start must fail")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))
}
