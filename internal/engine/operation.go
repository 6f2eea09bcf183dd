package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/types"
	"github.com/vault-engine/internal/valuer"
)

// Operation state machine: Idle -> Borrowed -> Returned -> Idle.
//
// A failed transition aborts the call but never rolls the status back; the
// only exits from during_operation are a successful close or the admin force
// release after the operation timeout.

// StartOperation begins a borrow cycle. The baseline total and share supply
// are snapshotted from a fresh ledger read before any asset leaves custody.
// The requested holdings are removed from custody and handed to the caller.
func (v *Vault) StartOperation(requested []types.AssetTypeID, now time.Time) ([]types.Holding, error) {
	if v.status != types.StatusNormal {
		return nil, errors.NewInvalidStateError(v.status, "start operation")
	}
	if len(requested) == 0 {
		return nil, errors.NewInvalidParameterError("types", "at least one asset type required")
	}

	borrowedSet := types.NewTypeSet()
	out := make([]types.Holding, 0, len(requested))
	for _, typeID := range requested {
		if borrowedSet.Contains(typeID) {
			return nil, errors.NewInvalidParameterError("types", "duplicate asset type "+string(typeID))
		}
		h, ok := v.holdings[typeID]
		if !ok {
			return nil, errors.NewNotFoundError("holding", string(typeID))
		}
		// Cross-vault ordering hazard: revaluing a receipt needs its issuing
		// vault in normal status. Reject here instead of at revaluation time.
		if h.Kind == types.KindReceipt && v.directory != nil {
			status, err := v.directory.VaultStatus(h.Handle)
			if err != nil {
				return nil, err
			}
			if status != types.StatusNormal {
				return nil, errors.NewConflictError(
					"receipt " + string(typeID) + " depends on vault " + h.Handle + " which is " + string(status))
			}
		}
		borrowedSet.Add(typeID)
		out = append(out, h)
	}

	baseline, err := v.ledger.TotalValue(now)
	if err != nil {
		return nil, err
	}
	baselineShares := v.shares.TotalShares()

	// Point of no return: status flips and custody is released.
	v.op = &types.OperationRecord{
		ID:                 uuid.New().String(),
		Phase:              types.PhaseBorrowed,
		BaselineTotalUSD:   baseline,
		BaselineShares:     baselineShares,
		BorrowedTypes:      borrowedSet,
		RevaluedTypes:      types.NewTypeSet(),
		ValueUpdateEnabled: false,
		StartedAt:          now,
	}
	v.status = types.StatusDuringOperation
	for _, h := range out {
		v.borrowed[h.TypeID] = h
		delete(v.holdings, h.TypeID)
	}
	return out, nil
}

// ReturnAssets re-deposits every borrowed asset into custody and opens the
// revaluation window. The returned set must exactly match the borrowed set
// by type and count; a partial return fails rather than leaving orphaned debt.
func (v *Vault) ReturnAssets(returned []types.Holding, now time.Time) error {
	if v.status != types.StatusDuringOperation || v.op == nil {
		return errors.NewInvalidStateError(v.status, "return operation assets")
	}
	if v.op.Phase != types.PhaseBorrowed {
		return errors.NewInvalidStateError(v.status, "return assets twice")
	}

	returnedSet := types.NewTypeSet()
	for _, h := range returned {
		if returnedSet.Contains(h.TypeID) {
			return errors.NewInvalidParameterError("assets", "duplicate asset type "+string(h.TypeID))
		}
		returnedSet.Add(h.TypeID)
	}
	if !returnedSet.Equal(v.op.BorrowedTypes) {
		return errors.NewConflictError("returned asset set does not match borrowed set")
	}

	for _, h := range returned {
		v.holdings[h.TypeID] = h
		delete(v.borrowed, h.TypeID)
	}
	v.op.Phase = types.PhaseReturned
	v.op.ValueUpdateEnabled = true
	return nil
}

// RefreshAssetValue consults the valuer for one borrowed type, refreshes its
// ledger entry and marks it revalued. Only valid inside the revaluation
// window opened by ReturnAssets.
func (v *Vault) RefreshAssetValue(ctx context.Context, typeID types.AssetTypeID, registry *valuer.Registry, now time.Time) error {
	if v.status != types.StatusDuringOperation || v.op == nil {
		return errors.NewInvalidStateError(v.status, "refresh operation asset value")
	}
	if !v.op.ValueUpdateEnabled {
		return errors.NewInvalidStateError(v.status, "refresh before assets are returned")
	}
	if !v.op.BorrowedTypes.Contains(typeID) {
		return errors.NewInvalidParameterError("type", string(typeID)+" was not borrowed by this operation")
	}

	h, ok := v.holdings[typeID]
	if !ok {
		return errors.NewNotFoundError("holding", string(typeID))
	}
	value, err := registry.Value(ctx, h, now)
	if err != nil {
		return err
	}
	if err := v.ledger.Refresh(typeID, value, now); err != nil {
		return err
	}
	v.op.RevaluedTypes.Add(typeID)
	return nil
}

// CloseOperation reconciles and ends the cycle. It gates on every borrowed
// type having been revalued, records the epoch loss against tolerance,
// asserts zero share-supply drift, then returns the vault to normal status
// and destroys the operation record.
func (v *Vault) CloseOperation(now time.Time) error {
	if v.status != types.StatusDuringOperation || v.op == nil {
		return errors.NewInvalidStateError(v.status, "close operation")
	}
	if !v.op.ValueUpdateEnabled {
		return errors.NewInvalidStateError(v.status, "close before assets are returned")
	}

	if !v.op.RevaluedTypes.Equal(v.op.BorrowedTypes) {
		missing := make([]types.AssetTypeID, 0)
		for id := range v.op.BorrowedTypes {
			if !v.op.RevaluedTypes.Contains(id) {
				missing = append(missing, id)
			}
		}
		return errors.NewIncompleteRevaluationError(missing)
	}

	after, err := v.ledger.TotalValue(now)
	if err != nil {
		return err
	}
	if err := v.losses.RecordLoss(v.op.BaselineTotalUSD, after); err != nil {
		return err
	}
	if !v.shares.TotalShares().Equal(v.op.BaselineShares) {
		return errors.NewInvalidStateError(v.status, "close with share supply drift")
	}

	v.status = types.StatusNormal
	v.op = nil
	return nil
}

// ForceReleaseOperation is the emergency recovery path for an abandoned
// operation. It is reachable only after the configured operation timeout and
// only when every borrowed asset has been independently verified returned to
// custody; it then discards the record without loss reconciliation.
// Callers gate it behind admin authority.
func (v *Vault) ForceReleaseOperation(now time.Time) error {
	if v.status != types.StatusDuringOperation || v.op == nil {
		return errors.NewInvalidStateError(v.status, "force release operation")
	}
	if v.operationTimeout <= 0 || now.Sub(v.op.StartedAt) < v.operationTimeout {
		return errors.NewConflictError("operation has not exceeded the recovery timeout")
	}
	if len(v.borrowed) != 0 {
		return errors.NewConflictError("borrowed assets have not all been returned to custody")
	}

	v.status = types.StatusNormal
	v.op = nil
	return nil
}
