// Package engine implements the vault accounting engine: custody, the
// operation state machine, and the pending-request buffer.
//
// The engine is single-writer per vault. Methods carry no internal locking;
// the owning service serializes all lifecycle calls for one vault instance.
// Concurrent reads of derived values (total value, share ratio) are safe
// only through the service layer.
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/ledger"
	"github.com/vault-engine/internal/losstracker"
	"github.com/vault-engine/internal/shares"
	"github.com/vault-engine/internal/types"
	"github.com/vault-engine/internal/valuer"
)

// Vault is the accounting aggregate for one custodial yield vault.
//
// Custody invariant: every registered asset type has exactly one ledger
// entry and exactly one holding, in custody or borrowed. Entry and holding
// are created and removed together; a mismatch (orphaned entry, or holding
// without entry) is the defect class register/deregister exists to prevent.
type Vault struct {
	id     string
	status types.VaultStatus

	ledger *ledger.Ledger
	shares *shares.Accounting
	losses *losstracker.Tracker

	// holdings is custody; borrowed holds assets released to the operator.
	// A type appears in exactly one of the two maps.
	holdings map[types.AssetTypeID]types.Holding
	borrowed map[types.AssetTypeID]types.Holding

	// op exists iff status == during_operation
	op *types.OperationRecord

	// pending is the request buffer, keyed by receipt id
	pending map[string]*types.Receipt

	// principalType is the tracked type modeling the vault's idle USD balance
	principalType types.AssetTypeID

	// directory resolves other vaults for cross-vault receipt checks at start
	directory valuer.VaultDirectory

	// operationTimeout gates the emergency force release
	operationTimeout time.Duration
}

// Config holds the parameters for creating a vault
type Config struct {
	ID                string
	PrincipalType     types.AssetTypeID
	MaxStaleness      time.Duration
	ToleranceFraction decimal.Decimal
	OperationTimeout  time.Duration
	Directory         valuer.VaultDirectory
}

// New creates a vault in normal status with only its principal type registered
func New(cfg Config, now time.Time) (*Vault, error) {
	if cfg.ID == "" {
		return nil, errors.NewInvalidParameterError("id", "must not be empty")
	}
	if cfg.PrincipalType == "" {
		return nil, errors.NewInvalidParameterError("principalType", "must not be empty")
	}

	v := &Vault{
		id:               cfg.ID,
		status:           types.StatusNormal,
		ledger:           ledger.New(cfg.MaxStaleness),
		shares:           shares.New(),
		losses:           losstracker.New(cfg.ToleranceFraction, now),
		holdings:         make(map[types.AssetTypeID]types.Holding),
		borrowed:         make(map[types.AssetTypeID]types.Holding),
		pending:          make(map[string]*types.Receipt),
		principalType:    cfg.PrincipalType,
		directory:        cfg.Directory,
		operationTimeout: cfg.OperationTimeout,
	}

	principal := types.Holding{
		TypeID: cfg.PrincipalType,
		Kind:   types.KindPrincipal,
		Units:  decimal.Zero,
		Handle: string(cfg.PrincipalType),
	}
	if err := v.RegisterAsset(principal, now); err != nil {
		return nil, err
	}
	return v, nil
}

// ID returns the vault identifier
func (v *Vault) ID() string { return v.id }

// Status returns the current vault status
func (v *Vault) Status() types.VaultStatus { return v.status }

// PrincipalType returns the tracked type modeling idle principal
func (v *Vault) PrincipalType() types.AssetTypeID { return v.principalType }

// Operation returns a copy of the open operation record, if any
func (v *Vault) Operation() (types.OperationRecord, bool) {
	if v.op == nil {
		return types.OperationRecord{}, false
	}
	rec := *v.op
	rec.BorrowedTypes = v.op.BorrowedTypes.Clone()
	rec.RevaluedTypes = v.op.RevaluedTypes.Clone()
	return rec, true
}

// LossState returns a copy of the current epoch loss state
func (v *Vault) LossState() types.LossState { return v.losses.State() }

// TotalShares returns the outstanding share supply
func (v *Vault) TotalShares() decimal.Decimal { return v.shares.TotalShares() }

// TotalValue returns the fresh ledger total, failing on any stale entry
func (v *Vault) TotalValue(now time.Time) (decimal.Decimal, error) {
	return v.ledger.TotalValue(now)
}

// ShareRatio returns USD-per-share derived from the fresh ledger total
func (v *Vault) ShareRatio(now time.Time) (decimal.Decimal, error) {
	total, err := v.ledger.TotalValue(now)
	if err != nil {
		return decimal.Zero, err
	}
	return shares.ShareRatio(total, v.shares.TotalShares())
}

// Entries returns copies of all ledger entries
func (v *Vault) Entries() []types.AssetEntry { return v.ledger.Entries() }

// Holding returns the custody holding for one type
func (v *Vault) Holding(typeID types.AssetTypeID) (types.Holding, bool) {
	h, ok := v.holdings[typeID]
	return h, ok
}

// RegisterAsset atomically creates the holding and its ledger entry.
// Only permitted in normal status.
func (v *Vault) RegisterAsset(holding types.Holding, now time.Time) error {
	if v.status != types.StatusNormal {
		return errors.NewInvalidStateError(v.status, "register asset type")
	}
	if _, exists := v.holdings[holding.TypeID]; exists {
		return errors.NewConflictError("holding already exists for type " + string(holding.TypeID))
	}
	// A receipt on the vault itself would make every valuation recurse
	// into the vault being valued; refuse it at the door.
	if holding.Kind == types.KindReceipt && holding.Handle == v.id {
		return errors.NewInvalidParameterError("handle", "receipt cannot reference its own vault")
	}
	if err := v.ledger.Register(holding.TypeID, holding.Kind, now); err != nil {
		return err
	}
	v.holdings[holding.TypeID] = holding
	return nil
}

// DeregisterAsset atomically removes the holding and every ledger-side record
// for the type, so the same type can be registered again later.
func (v *Vault) DeregisterAsset(typeID types.AssetTypeID) error {
	if v.status != types.StatusNormal {
		return errors.NewInvalidStateError(v.status, "deregister asset type")
	}
	if typeID == v.principalType {
		return errors.NewConflictError("cannot deregister the principal type")
	}
	if _, exists := v.holdings[typeID]; !exists {
		return errors.NewNotFoundError("holding", string(typeID))
	}
	if err := v.ledger.Deregister(typeID); err != nil {
		return err
	}
	delete(v.holdings, typeID)
	return nil
}

// RevalueAsset refreshes one ledger entry outside an operation window.
// Callable while the vault is enabled (normal or during_operation); outside
// the revaluation window it never marks operation progress.
func (v *Vault) RevalueAsset(typeID types.AssetTypeID, valueUSD decimal.Decimal, now time.Time) error {
	if v.status == types.StatusDisabled {
		return errors.NewInvalidStateError(v.status, "refresh asset value")
	}
	return v.ledger.Refresh(typeID, valueUSD, now)
}

// Admin transitions. All are rejected while an operation is open.

// SetLossTolerance replaces the tolerance fraction for future epochs
func (v *Vault) SetLossTolerance(fraction decimal.Decimal) error {
	if v.status == types.StatusDuringOperation {
		return errors.NewInvalidStateError(v.status, "set loss tolerance")
	}
	return v.losses.SetTolerance(fraction)
}

// BeginEpoch starts a new loss accounting epoch from a fresh ledger baseline
func (v *Vault) BeginEpoch(now time.Time) error {
	if v.status == types.StatusDuringOperation {
		return errors.NewInvalidStateError(v.status, "begin epoch")
	}
	baseline, err := v.ledger.TotalValue(now)
	if err != nil {
		return err
	}
	v.losses.BeginEpoch(baseline, now)
	return nil
}

// Disable administratively disables the vault. Must be rejected while an
// operation is open: a disable mid-operation would strand borrowed assets.
func (v *Vault) Disable() error {
	if v.status == types.StatusDuringOperation {
		return errors.NewInvalidStateError(v.status, "disable vault")
	}
	v.status = types.StatusDisabled
	return nil
}

// Enable returns a disabled vault to normal status
func (v *Vault) Enable() error {
	if v.status != types.StatusDisabled {
		return errors.NewInvalidStateError(v.status, "enable vault")
	}
	v.status = types.StatusNormal
	return nil
}
