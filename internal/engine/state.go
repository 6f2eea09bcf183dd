package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/ledger"
	"github.com/vault-engine/internal/losstracker"
	"github.com/vault-engine/internal/shares"
	"github.com/vault-engine/internal/types"
	"github.com/vault-engine/internal/valuer"
)

// State is the persistable snapshot of one vault: status, share supply, the
// asset entry mapping, the optional operation record, loss state, custody and
// the pending request buffer. The binary layout is the storage layer's choice.
type State struct {
	ID               string                 `json:"id"`
	Status           types.VaultStatus      `json:"status"`
	PrincipalType    types.AssetTypeID      `json:"principalType"`
	TotalShares      decimal.Decimal        `json:"totalShares"`
	Entries          []types.AssetEntry     `json:"entries"`
	Holdings         []types.Holding        `json:"holdings"`
	Borrowed         []types.Holding        `json:"borrowed"`
	Operation        *types.OperationRecord `json:"operation,omitempty"`
	Loss             types.LossState        `json:"loss"`
	Receipts         []types.Receipt        `json:"receipts"`
	MaxStaleness     time.Duration          `json:"maxStalenessNs"`
	OperationTimeout time.Duration          `json:"operationTimeoutNs"`
}

// Snapshot captures the vault's full persistable state
func (v *Vault) Snapshot() State {
	st := State{
		ID:               v.id,
		Status:           v.status,
		PrincipalType:    v.principalType,
		TotalShares:      v.shares.TotalShares(),
		Entries:          v.ledger.Entries(),
		Holdings:         make([]types.Holding, 0, len(v.holdings)),
		Borrowed:         make([]types.Holding, 0, len(v.borrowed)),
		Loss:             v.losses.State(),
		Receipts:         v.Receipts(),
		MaxStaleness:     v.ledger.MaxStaleness(),
		OperationTimeout: v.operationTimeout,
	}
	for _, h := range v.holdings {
		st.Holdings = append(st.Holdings, h)
	}
	for _, h := range v.borrowed {
		st.Borrowed = append(st.Borrowed, h)
	}
	if v.op != nil {
		rec := *v.op
		rec.BorrowedTypes = v.op.BorrowedTypes.Clone()
		rec.RevaluedTypes = v.op.RevaluedTypes.Clone()
		st.Operation = &rec
	}
	return st
}

// Restore rebuilds a vault from a persisted snapshot
func Restore(st State, directory valuer.VaultDirectory) *Vault {
	v := &Vault{
		id:               st.ID,
		status:           st.Status,
		ledger:           ledger.New(st.MaxStaleness),
		shares:           shares.Restore(st.TotalShares),
		losses:           losstracker.Restore(st.Loss),
		holdings:         make(map[types.AssetTypeID]types.Holding, len(st.Holdings)),
		borrowed:         make(map[types.AssetTypeID]types.Holding, len(st.Borrowed)),
		pending:          make(map[string]*types.Receipt, len(st.Receipts)),
		principalType:    st.PrincipalType,
		directory:        directory,
		operationTimeout: st.OperationTimeout,
	}
	v.ledger.Restore(st.Entries)
	for _, h := range st.Holdings {
		v.holdings[h.TypeID] = h
	}
	for _, h := range st.Borrowed {
		v.borrowed[h.TypeID] = h
	}
	for i := range st.Receipts {
		r := st.Receipts[i]
		v.pending[r.ID] = &r
	}
	if st.Operation != nil {
		rec := *st.Operation
		v.op = &rec
	}
	return v
}
