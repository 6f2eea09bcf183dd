package ledger

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/types"
)

const (
	typeA = types.AssetTypeID("lending:aave:WETH")
	typeB = types.AssetTypeID("clmm:uni:WETH-USDC")
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestTotalValueSumsSignedValues(t *testing.T) {
	now := time.Now()
	l := New(time.Hour)
	require.NoError(t, l.Register(typeA, types.KindLending, now))
	require.NoError(t, l.Register(typeB, types.KindConcentratedLiquidity, now))

	require.NoError(t, l.Refresh(typeA, dec("150.5"), now))
	// Underwater position contributes negatively, never clamped to zero
	require.NoError(t, l.Refresh(typeB, dec("-30.5"), now))

	total, err := l.TotalValue(now)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("120")), "got %s", total)
}

func TestTotalValueFailsOnAnyStaleEntry(t *testing.T) {
	now := time.Now()
	l := New(time.Minute)
	require.NoError(t, l.Register(typeA, types.KindLending, now))
	require.NoError(t, l.Register(typeB, types.KindConcentratedLiquidity, now))

	require.NoError(t, l.Refresh(typeA, dec("100"), now))
	require.NoError(t, l.Refresh(typeB, dec("100"), now.Add(-2*time.Minute)))

	_, err := l.TotalValue(now)
	assert.True(t, errors.HasCode(err, errors.CodeStaleValuation),
		"a stale entry must fail the read, not be excluded")
}

func TestZeroStalenessWindowRequiresSameStepRefresh(t *testing.T) {
	now := time.Now()
	l := New(0)
	require.NoError(t, l.Register(typeA, types.KindLending, now))
	require.NoError(t, l.Refresh(typeA, dec("10"), now))

	_, err := l.TotalValue(now)
	assert.NoError(t, err, "same-instant read must pass a zero window")

	_, err = l.TotalValue(now.Add(time.Nanosecond))
	assert.True(t, errors.HasCode(err, errors.CodeStaleValuation))
}

func TestRefreshUnregisteredTypeFails(t *testing.T) {
	l := New(time.Hour)
	err := l.Refresh(typeA, dec("1"), time.Now())
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestDeregisterRemovesEverything(t *testing.T) {
	now := time.Now()
	l := New(time.Hour)
	require.NoError(t, l.Register(typeA, types.KindLending, now))
	require.NoError(t, l.Refresh(typeA, dec("42"), now))

	require.NoError(t, l.Deregister(typeA))
	assert.False(t, l.Has(typeA))

	// Re-registration must succeed and start clean
	require.NoError(t, l.Register(typeA, types.KindLending, now))
	entry, err := l.Entry(typeA)
	require.NoError(t, err)
	assert.True(t, entry.ValueUSD.IsZero())
}

func TestDoubleRegisterFails(t *testing.T) {
	now := time.Now()
	l := New(time.Hour)
	require.NoError(t, l.Register(typeA, types.KindLending, now))
	err := l.Register(typeA, types.KindLending, now)
	assert.True(t, errors.HasCode(err, errors.CodeConflict))
}

func TestPropertyRefreshIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)
	now := time.Now()

	properties.Property("refreshing twice with identical arguments yields identical state", prop.ForAll(
		func(cents int64) bool {
			l := New(time.Hour)
			if err := l.Register(typeA, types.KindLending, now); err != nil {
				return false
			}
			value := decimal.NewFromInt(cents).Shift(-2)
			if err := l.Refresh(typeA, value, now); err != nil {
				return false
			}
			first, err := l.Entry(typeA)
			if err != nil {
				return false
			}
			if err := l.Refresh(typeA, value, now); err != nil {
				return false
			}
			second, err := l.Entry(typeA)
			if err != nil {
				return false
			}
			return first.ValueUSD.Equal(second.ValueUSD) && first.LastUpdated.Equal(second.LastUpdated)
		},
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
	))

	properties.TestingRun(t)
}
