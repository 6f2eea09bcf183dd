// Package service orchestrates the accounting engine against storage,
// audit, and cache. It owns the in-memory vault set and serializes all
// mutations per vault.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/config"
	"github.com/vault-engine/internal/engine"
	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/logging"
	"github.com/vault-engine/internal/retry"
	"github.com/vault-engine/internal/storage"
	"github.com/vault-engine/internal/types"
	"github.com/vault-engine/internal/valuer"
)

// Repository interfaces for dependency injection

// VaultRepository interface for vault persistence
type VaultRepository interface {
	Save(ctx context.Context, state engine.State) error
	Get(ctx context.Context, id string) (engine.State, error)
	List(ctx context.Context, limit, offset int) ([]storage.VaultSummary, error)
	ListIDs(ctx context.Context) ([]string, error)
	ReceiptsByHolder(ctx context.Context, holder string) ([]types.Receipt, error)
}

// AuditRecorder interface for the append-only audit trail
type AuditRecorder interface {
	RecordValuation(ctx context.Context, event storage.ValuationEvent) error
	RecordOperationEvent(ctx context.Context, event storage.OperationEvent) error
}

// ReadCache interface for cached derived reads
type ReadCache interface {
	SetShareRatio(ctx context.Context, vaultID string, ratio decimal.Decimal) error
	GetShareRatio(ctx context.Context, vaultID string) (decimal.Decimal, bool, error)
	SetTotalValue(ctx context.Context, vaultID string, total decimal.Decimal) error
	GetTotalValue(ctx context.Context, vaultID string) (decimal.Decimal, bool, error)
	InvalidateVault(ctx context.Context, vaultID string) error
}

// vaultHandle pairs a vault with the mutex that serializes access to it.
// The engine has no internal locking; this mutex is the single writer.
type vaultHandle struct {
	mu    sync.Mutex
	vault *engine.Vault
}

// VaultService manages the vault set and runs all vault operations
// against it. It also implements valuer.VaultDirectory so receipt
// holdings can be valued across vaults.
type VaultService struct {
	repo     VaultRepository
	audit    AuditRecorder
	cache    ReadCache
	registry *valuer.Registry
	defaults config.VaultConfig

	// now is injectable for tests
	now func() time.Time

	mu     sync.RWMutex
	vaults map[string]*vaultHandle
}

// NewVaultService creates a new vault service
func NewVaultService(
	repo VaultRepository,
	audit AuditRecorder,
	cache ReadCache,
	registry *valuer.Registry,
	defaults config.VaultConfig,
) *VaultService {
	return &VaultService{
		repo:     repo,
		audit:    audit,
		cache:    cache,
		registry: registry,
		defaults: defaults,
		now:      time.Now,
		vaults:   make(map[string]*vaultHandle),
	}
}

// SetClock overrides the service clock. Test hook.
func (s *VaultService) SetClock(now func() time.Time) {
	s.now = now
}

// LoadVaults hydrates the in-memory vault set from storage.
// Call once at startup before serving requests.
func (s *VaultService) LoadVaults(ctx context.Context) error {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		state, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		s.vaults[id] = &vaultHandle{vault: engine.Restore(state, s)}
	}

	logging.WithField("vaults", len(ids)).Info("Vault set loaded from storage")
	return nil
}

func (s *VaultService) handle(vaultID string) (*vaultHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.vaults[vaultID]
	if !ok {
		return nil, errors.NewNotFoundError("vault", vaultID)
	}
	return h, nil
}

// mutate runs fn against the vault under its lock and persists the
// result. If the save fails the in-memory vault is rolled back to the
// pre-mutation snapshot, so memory never runs ahead of storage.
func (s *VaultService) mutate(ctx context.Context, vaultID string, fn func(v *engine.Vault) error) error {
	h, err := s.handle(vaultID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	before := h.vault.Snapshot()

	if err := fn(h.vault); err != nil {
		return err
	}

	if err := s.repo.Save(ctx, h.vault.Snapshot()); err != nil {
		h.vault = engine.Restore(before, s)
		return err
	}

	s.invalidate(ctx, vaultID)
	return nil
}

// read runs fn against the vault under its lock without persisting
func (s *VaultService) read(vaultID string, fn func(v *engine.Vault) error) error {
	h, err := s.handle(vaultID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.vault)
}

func (s *VaultService) invalidate(ctx context.Context, vaultID string) {
	if err := s.cache.InvalidateVault(ctx, vaultID); err != nil {
		logging.FromContext(ctx).WithError(err).WithVault(vaultID).Warn("Cache invalidation failed")
	}
}

// recordOperationEvent writes to the audit trail. Audit is best effort:
// a failed write is logged, never surfaced to the caller.
func (s *VaultService) recordOperationEvent(ctx context.Context, event storage.OperationEvent) {
	if err := s.audit.RecordOperationEvent(ctx, event); err != nil {
		logging.FromContext(ctx).WithError(err).WithVault(event.VaultID).Warn("Audit write failed")
	}
}

// VaultDirectory implementation, used by receipt valuers and the
// cross-vault check when a receipt type is borrowed

// VaultStatus returns the status of a vault by ID
func (s *VaultService) VaultStatus(vaultID string) (types.VaultStatus, error) {
	var status types.VaultStatus
	err := s.read(vaultID, func(v *engine.Vault) error {
		status = v.Status()
		return nil
	})
	return status, err
}

// VaultShareRatio returns the share ratio of a vault by ID
func (s *VaultService) VaultShareRatio(vaultID string, now time.Time) (decimal.Decimal, error) {
	var ratio decimal.Decimal
	err := s.read(vaultID, func(v *engine.Vault) error {
		var rerr error
		ratio, rerr = v.ShareRatio(now)
		return rerr
	})
	return ratio, err
}

// Vault lifecycle

// CreateVaultInput holds the parameters for creating a vault
type CreateVaultInput struct {
	ID                string            `json:"id"`
	PrincipalType     types.AssetTypeID `json:"principalType"`
	MaxStaleness      *time.Duration    `json:"maxStalenessNs,omitempty"`
	ToleranceFraction *decimal.Decimal  `json:"toleranceFraction,omitempty"`
	OperationTimeout  *time.Duration    `json:"operationTimeoutNs,omitempty"`
}

// CreateVault creates a vault, registers it in memory and persists it
func (s *VaultService) CreateVault(ctx context.Context, input CreateVaultInput) (*VaultView, error) {
	cfg := engine.Config{
		ID:                input.ID,
		PrincipalType:     input.PrincipalType,
		MaxStaleness:      s.defaults.MaxStaleness,
		ToleranceFraction: s.defaults.ToleranceFraction,
		OperationTimeout:  s.defaults.OperationTimeout,
		Directory:         s,
	}
	if input.MaxStaleness != nil {
		cfg.MaxStaleness = *input.MaxStaleness
	}
	if input.ToleranceFraction != nil {
		cfg.ToleranceFraction = *input.ToleranceFraction
	}
	if input.OperationTimeout != nil {
		cfg.OperationTimeout = *input.OperationTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.vaults[input.ID]; exists {
		return nil, errors.NewConflictError("vault already exists: " + input.ID)
	}

	vault, err := engine.New(cfg, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, vault.Snapshot()); err != nil {
		return nil, err
	}
	s.vaults[input.ID] = &vaultHandle{vault: vault}

	logging.FromContext(ctx).WithVault(input.ID).Info("Vault created")

	view := viewOf(vault, s.now())
	return &view, nil
}

// VaultView is the read model of a vault
type VaultView struct {
	ID            string                 `json:"id"`
	Status        types.VaultStatus      `json:"status"`
	PrincipalType types.AssetTypeID      `json:"principalType"`
	TotalShares   decimal.Decimal        `json:"totalShares"`
	TotalValueUSD *decimal.Decimal       `json:"totalValueUsd,omitempty"`
	ShareRatio    *decimal.Decimal       `json:"shareRatio,omitempty"`
	Entries       []types.AssetEntry     `json:"entries"`
	Operation     *types.OperationRecord `json:"operation,omitempty"`
	Loss          types.LossState        `json:"loss"`
	PendingCount  int                    `json:"pendingCount"`
}

// viewOf builds the read model. Total value and share ratio are omitted
// rather than failing the whole view when a valuation is stale.
func viewOf(v *engine.Vault, now time.Time) VaultView {
	view := VaultView{
		ID:            v.ID(),
		Status:        v.Status(),
		PrincipalType: v.PrincipalType(),
		TotalShares:   v.TotalShares(),
		Entries:       v.Entries(),
		Loss:          v.LossState(),
		PendingCount:  len(v.Receipts()),
	}
	if op, ok := v.Operation(); ok {
		view.Operation = &op
	}
	if total, err := v.TotalValue(now); err == nil {
		view.TotalValueUSD = &total
	}
	if ratio, err := v.ShareRatio(now); err == nil {
		view.ShareRatio = &ratio
	}
	return view
}

// GetVault returns the read model of one vault
func (s *VaultService) GetVault(_ context.Context, vaultID string) (*VaultView, error) {
	var view VaultView
	err := s.read(vaultID, func(v *engine.Vault) error {
		view = viewOf(v, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListVaults returns persisted vault summaries
func (s *VaultService) ListVaults(ctx context.Context, limit, offset int) ([]storage.VaultSummary, error) {
	return s.repo.List(ctx, limit, offset)
}

// Asset management

// RegisterAssetInput holds the parameters for registering an asset type
type RegisterAssetInput struct {
	TypeID types.AssetTypeID `json:"typeId"`
	Kind   types.AssetKind   `json:"kind"`
	Units  decimal.Decimal   `json:"units"`
	Handle string            `json:"handle"`
}

// RegisterAsset registers a new tracked asset type on a vault
func (s *VaultService) RegisterAsset(ctx context.Context, vaultID string, input RegisterAssetInput) error {
	holding := types.Holding{
		TypeID: input.TypeID,
		Kind:   input.Kind,
		Units:  input.Units,
		Handle: input.Handle,
	}
	return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		return v.RegisterAsset(holding, s.now())
	})
}

// DeregisterAsset removes a tracked asset type from a vault
func (s *VaultService) DeregisterAsset(ctx context.Context, vaultID string, typeID types.AssetTypeID) error {
	return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		return v.DeregisterAsset(typeID)
	})
}

// refreshRetryConfig bounds retries of transient oracle and storage
// failures during a revaluation. Non-retryable failures (rejected
// valuations, invalid state) surface immediately.
func refreshRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Retryable:    errors.IsRetryable,
	}
}

// RefreshAssetValue revalues one asset through the valuer registry and
// records the valuation in the audit trail. A type borrowed by the open
// operation goes through the revaluation window and counts as operation
// progress; any other entry is refreshed in place, which is how entries
// are kept inside the staleness bound between operations.
func (s *VaultService) RefreshAssetValue(ctx context.Context, vaultID string, typeID types.AssetTypeID) error {
	now := s.now()
	err := retry.Do(ctx, refreshRetryConfig(), func(ctx context.Context, _ int) error {
		return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
			if op, ok := v.Operation(); ok && op.BorrowedTypes.Contains(typeID) {
				return v.RefreshAssetValue(ctx, typeID, s.registry, now)
			}
			h, ok := v.Holding(typeID)
			if !ok {
				return errors.NewNotFoundError("holding", string(typeID))
			}
			value, verr := s.registry.Value(ctx, h, now)
			if verr != nil {
				return verr
			}
			return v.RevalueAsset(typeID, value, now)
		})
	})
	if err != nil {
		return err
	}

	var entry types.AssetEntry
	if rerr := s.read(vaultID, func(v *engine.Vault) error {
		var eerr error
		entry, eerr = entryOf(v, typeID)
		return eerr
	}); rerr == nil {
		if aerr := s.audit.RecordValuation(ctx, storage.ValuationEvent{
			VaultID:    vaultID,
			TypeID:     typeID,
			Kind:       entry.Kind,
			ValueUSD:   entry.ValueUSD,
			RecordedAt: now,
		}); aerr != nil {
			logging.FromContext(ctx).WithError(aerr).WithVault(vaultID).Warn("Audit write failed")
		}
	}

	return nil
}

func entryOf(v *engine.Vault, typeID types.AssetTypeID) (types.AssetEntry, error) {
	for _, e := range v.Entries() {
		if e.TypeID == typeID {
			return e, nil
		}
	}
	return types.AssetEntry{}, errors.NewNotFoundError("asset entry", string(typeID))
}

// Admin

// SetLossTolerance updates the vault's loss tolerance fraction
func (s *VaultService) SetLossTolerance(ctx context.Context, vaultID string, fraction decimal.Decimal) error {
	return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		return v.SetLossTolerance(fraction)
	})
}

// BeginEpoch rolls the vault's loss epoch
func (s *VaultService) BeginEpoch(ctx context.Context, vaultID string) error {
	return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		return v.BeginEpoch(s.now())
	})
}

// BeginEpochAll rolls the epoch for every vault that will accept it.
// Vaults mid-operation are skipped and reported, not failed.
func (s *VaultService) BeginEpochAll(ctx context.Context) (rolled, skipped []string) {
	for _, id := range s.vaultIDs() {
		if err := s.BeginEpoch(ctx, id); err != nil {
			logging.FromContext(ctx).WithError(err).WithVault(id).Warn("Epoch roll skipped")
			skipped = append(skipped, id)
			continue
		}
		rolled = append(rolled, id)
	}
	return rolled, skipped
}

func (s *VaultService) vaultIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.vaults))
	for id := range s.vaults {
		ids = append(ids, id)
	}
	return ids
}

// VaultIDs returns the ids of all registered vaults
func (s *VaultService) VaultIDs() []string {
	return s.vaultIDs()
}

// Disable takes the vault out of service
func (s *VaultService) Disable(ctx context.Context, vaultID string) error {
	return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		return v.Disable()
	})
}

// Enable returns a disabled vault to normal status
func (s *VaultService) Enable(ctx context.Context, vaultID string) error {
	return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		return v.Enable()
	})
}

// Operation lifecycle

// StartOperation borrows the requested asset types and opens an operation
func (s *VaultService) StartOperation(ctx context.Context, vaultID string, requested []types.AssetTypeID) ([]types.Holding, error) {
	now := s.now()
	var (
		released []types.Holding
		baseline decimal.Decimal
		opID     string
	)
	err := s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		holdings, serr := v.StartOperation(requested, now)
		if serr != nil {
			return serr
		}
		released = holdings
		if op, ok := v.Operation(); ok {
			opID = op.ID
			baseline = op.BaselineTotalUSD
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordOperationEvent(ctx, storage.OperationEvent{
		VaultID:     vaultID,
		OperationID: opID,
		Event:       storage.EventOperationStarted,
		TotalUSD:    baseline,
		RecordedAt:  now,
	})

	return released, nil
}

// ReturnAssets takes custody of all borrowed assets back
func (s *VaultService) ReturnAssets(ctx context.Context, vaultID string, returned []types.Holding) error {
	now := s.now()
	var opID string
	err := s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		if rerr := v.ReturnAssets(returned, now); rerr != nil {
			return rerr
		}
		if op, ok := v.Operation(); ok {
			opID = op.ID
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recordOperationEvent(ctx, storage.OperationEvent{
		VaultID:     vaultID,
		OperationID: opID,
		Event:       storage.EventAssetsReturned,
		RecordedAt:  now,
	})

	return nil
}

// CloseOperation settles the operation against the loss budget and
// returns the vault to normal status
func (s *VaultService) CloseOperation(ctx context.Context, vaultID string) error {
	now := s.now()
	var (
		opID  string
		total decimal.Decimal
	)
	err := s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		if op, ok := v.Operation(); ok {
			opID = op.ID
		}
		if cerr := v.CloseOperation(now); cerr != nil {
			return cerr
		}
		if t, terr := v.TotalValue(now); terr == nil {
			total = t
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recordOperationEvent(ctx, storage.OperationEvent{
		VaultID:     vaultID,
		OperationID: opID,
		Event:       storage.EventOperationClosed,
		TotalUSD:    total,
		RecordedAt:  now,
	})

	return nil
}

// ForceReleaseOperation clears an abandoned operation record once the
// timeout has passed and every borrowed asset is back in custody
func (s *VaultService) ForceReleaseOperation(ctx context.Context, vaultID string) error {
	now := s.now()
	var opID string
	err := s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		if op, ok := v.Operation(); ok {
			opID = op.ID
		}
		return v.ForceReleaseOperation(now)
	})
	if err != nil {
		return err
	}

	s.recordOperationEvent(ctx, storage.OperationEvent{
		VaultID:     vaultID,
		OperationID: opID,
		Event:       storage.EventOperationReleased,
		RecordedAt:  now,
	})

	logging.FromContext(ctx).WithVault(vaultID).Warn("Operation force released")
	return nil
}

// ReleaseStuckOperations attempts a force release on every vault stuck
// in an operation. Vaults that do not qualify are left alone.
func (s *VaultService) ReleaseStuckOperations(ctx context.Context) (released []string) {
	for _, id := range s.vaultIDs() {
		status, err := s.VaultStatus(id)
		if err != nil || status != types.StatusDuringOperation {
			continue
		}
		if err := s.ForceReleaseOperation(ctx, id); err != nil {
			continue
		}
		released = append(released, id)
	}
	return released
}

// Request buffer

// SubmitDeposit buffers a deposit request and returns its receipt
func (s *VaultService) SubmitDeposit(ctx context.Context, vaultID, holder string, amountUSD decimal.Decimal) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		var serr error
		receipt, serr = v.SubmitDeposit(holder, amountUSD, s.now())
		return serr
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// SubmitWithdraw buffers a withdrawal request and returns its receipt
func (s *VaultService) SubmitWithdraw(ctx context.Context, vaultID, holder string, shareAmount decimal.Decimal) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		var serr error
		receipt, serr = v.SubmitWithdraw(holder, shareAmount, s.now())
		return serr
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// TransferReceipt moves a pending receipt to a new holder
func (s *VaultService) TransferReceipt(ctx context.Context, vaultID, receiptID, presenter, newHolder string) error {
	return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		return v.TransferReceipt(receiptID, presenter, newHolder)
	})
}

// CancelRequest removes a pending receipt
func (s *VaultService) CancelRequest(ctx context.Context, vaultID, receiptID, presenter string) error {
	return s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		return v.CancelRequest(receiptID, presenter)
	})
}

// ExecuteRequest settles a pending receipt at the current share ratio
func (s *VaultService) ExecuteRequest(ctx context.Context, vaultID, receiptID, presenter string) (*engine.ExecutionResult, error) {
	var result *engine.ExecutionResult
	err := s.mutate(ctx, vaultID, func(v *engine.Vault) error {
		var serr error
		result, serr = v.ExecuteRequest(receiptID, presenter, s.now())
		return serr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetReceipt returns one pending receipt
func (s *VaultService) GetReceipt(_ context.Context, vaultID, receiptID string) (types.Receipt, error) {
	var receipt types.Receipt
	err := s.read(vaultID, func(v *engine.Vault) error {
		var rerr error
		receipt, rerr = v.Receipt(receiptID)
		return rerr
	})
	return receipt, err
}

// ReceiptsByHolder returns every pending receipt held by an account
func (s *VaultService) ReceiptsByHolder(ctx context.Context, holder string) ([]types.Receipt, error) {
	return s.repo.ReceiptsByHolder(ctx, holder)
}

// Cached reads

// ShareRatio returns the vault's share ratio, served from cache when warm
func (s *VaultService) ShareRatio(ctx context.Context, vaultID string) (decimal.Decimal, error) {
	if ratio, hit, err := s.cache.GetShareRatio(ctx, vaultID); err == nil && hit {
		return ratio, nil
	}

	ratio, err := s.VaultShareRatio(vaultID, s.now())
	if err != nil {
		return decimal.Zero, err
	}

	if cerr := s.cache.SetShareRatio(ctx, vaultID, ratio); cerr != nil {
		logging.FromContext(ctx).WithError(cerr).WithVault(vaultID).Warn("Cache write failed")
	}
	return ratio, nil
}

// TotalValue returns the vault's total USD value, served from cache when warm
func (s *VaultService) TotalValue(ctx context.Context, vaultID string) (decimal.Decimal, error) {
	if total, hit, err := s.cache.GetTotalValue(ctx, vaultID); err == nil && hit {
		return total, nil
	}

	var total decimal.Decimal
	err := s.read(vaultID, func(v *engine.Vault) error {
		var terr error
		total, terr = v.TotalValue(s.now())
		return terr
	})
	if err != nil {
		return decimal.Zero, err
	}

	if cerr := s.cache.SetTotalValue(ctx, vaultID, total); cerr != nil {
		logging.FromContext(ctx).WithError(cerr).WithVault(vaultID).Warn("Cache write failed")
	}
	return total, nil
}
