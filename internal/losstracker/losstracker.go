// Package losstracker accumulates per-epoch operation losses against a
// configurable tolerance fraction of the epoch baseline.
package losstracker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/fixedpoint"
	"github.com/vault-engine/internal/types"
)

// Tracker holds the loss state for the current accounting epoch.
// Mutation is driven only by the operation state machine's close step;
// tolerance changes are gated by the engine (rejected mid-operation).
type Tracker struct {
	state types.LossState
}

// New creates a tracker with the given tolerance fraction and an empty epoch
func New(toleranceFraction decimal.Decimal, now time.Time) *Tracker {
	return &Tracker{
		state: types.LossState{
			EpochID:             0,
			CurEpochLoss:        decimal.Zero,
			CurEpochBaselineUSD: decimal.Zero,
			ToleranceFraction:   toleranceFraction,
			EpochStartedAt:      now,
		},
	}
}

// Restore rebuilds a tracker from persisted state
func Restore(state types.LossState) *Tracker {
	return &Tracker{state: state}
}

// State returns a copy of the current loss state
func (t *Tracker) State() types.LossState {
	return t.state
}

// BeginEpoch starts a new accounting epoch: the baseline is recorded and the
// cumulative loss resets to zero.
func (t *Tracker) BeginEpoch(baselineUSD decimal.Decimal, now time.Time) {
	t.state.EpochID++
	t.state.CurEpochBaselineUSD = baselineUSD
	t.state.CurEpochLoss = decimal.Zero
	t.state.EpochStartedAt = now
}

// SetTolerance replaces the tolerance fraction. The engine must reject this
// while an operation is open; changing the rule mid-measurement would
// retroactively legalize a loss that should have failed.
func (t *Tracker) SetTolerance(fraction decimal.Decimal) error {
	if fraction.IsNegative() {
		return errors.NewInvalidParameterError("toleranceFraction", "must not be negative")
	}
	t.state.ToleranceFraction = fraction
	return nil
}

// Limit returns the loss ceiling for the current epoch
func (t *Tracker) Limit() decimal.Decimal {
	return fixedpoint.Mul(t.state.CurEpochBaselineUSD, t.state.ToleranceFraction)
}

// RecordLoss adds max(0, before-after) to the cumulative epoch loss, failing
// with LOSS_LIMIT_EXCEEDED when the running total crosses the tolerance.
// A gain (after >= before) records nothing and always succeeds.
func (t *Tracker) RecordLoss(beforeUSD, afterUSD decimal.Decimal) error {
	loss := beforeUSD.Sub(afterUSD)
	if loss.IsNegative() {
		loss = decimal.Zero
	}
	cumulative := t.state.CurEpochLoss.Add(loss)
	limit := t.Limit()
	if cumulative.GreaterThan(limit) {
		return errors.NewLossLimitExceededError(cumulative.String(), limit.String())
	}
	t.state.CurEpochLoss = cumulative
	return nil
}
