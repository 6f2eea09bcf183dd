package losstracker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-engine/internal/errors"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRecordLossWithinTolerance(t *testing.T) {
	now := time.Now()
	tr := New(dec("0.01"), now)
	tr.BeginEpoch(dec("1000"), now)

	require.NoError(t, tr.RecordLoss(dec("1000"), dec("995")))
	assert.True(t, tr.State().CurEpochLoss.Equal(dec("5")))
}

func TestRecordLossExceedsTolerance(t *testing.T) {
	now := time.Now()
	tr := New(dec("0.01"), now)
	tr.BeginEpoch(dec("1000"), now)

	err := tr.RecordLoss(dec("1000"), dec("985"))
	assert.True(t, errors.HasCode(err, errors.CodeLossLimitExceeded))
	assert.True(t, tr.State().CurEpochLoss.IsZero(), "failed record must not commit the loss")
}

func TestLossAccumulatesAcrossOperations(t *testing.T) {
	now := time.Now()
	tr := New(dec("0.01"), now)
	tr.BeginEpoch(dec("1000"), now)

	require.NoError(t, tr.RecordLoss(dec("1000"), dec("994")))
	require.NoError(t, tr.RecordLoss(dec("994"), dec("991")))

	// 6 + 3 already booked; one more unit crosses the 10 limit
	err := tr.RecordLoss(dec("991"), dec("989"))
	assert.True(t, errors.HasCode(err, errors.CodeLossLimitExceeded))
}

func TestGainRecordsNothing(t *testing.T) {
	now := time.Now()
	tr := New(dec("0.01"), now)
	tr.BeginEpoch(dec("1000"), now)

	require.NoError(t, tr.RecordLoss(dec("1000"), dec("1100")))
	assert.True(t, tr.State().CurEpochLoss.IsZero())
}

func TestBeginEpochResetsLoss(t *testing.T) {
	now := time.Now()
	tr := New(dec("0.01"), now)
	tr.BeginEpoch(dec("1000"), now)
	require.NoError(t, tr.RecordLoss(dec("1000"), dec("995")))

	tr.BeginEpoch(dec("995"), now.Add(time.Hour))
	st := tr.State()
	assert.True(t, st.CurEpochLoss.IsZero())
	assert.True(t, st.CurEpochBaselineUSD.Equal(dec("995")))
	assert.Equal(t, uint64(2), st.EpochID)
}

func TestNegativeToleranceRejected(t *testing.T) {
	tr := New(dec("0.01"), time.Now())
	err := tr.SetTolerance(dec("-0.1"))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))
}
