// Package types provides common type definitions for the vault accounting engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// VaultStatus represents the lifecycle status of a vault
type VaultStatus string

const (
	// StatusNormal represents a vault accepting user deposits and withdrawals
	StatusNormal VaultStatus = "normal"
	// StatusDuringOperation represents a vault with an open operator borrow cycle
	StatusDuringOperation VaultStatus = "during_operation"
	// StatusDisabled represents an administratively disabled vault
	StatusDisabled VaultStatus = "disabled"
)

// OperationPhase represents the phase of an open operation
type OperationPhase string

const (
	// PhaseBorrowed represents assets withdrawn from custody, not yet returned
	PhaseBorrowed OperationPhase = "borrowed"
	// PhaseReturned represents assets back in custody with the revaluation window open
	PhaseReturned OperationPhase = "returned"
)

// AssetKind represents the closed set of tracked asset categories
type AssetKind string

const (
	// KindPrincipal represents the vault's own idle principal balance
	KindPrincipal AssetKind = "principal"
	// KindLending represents a position in an external lending market
	KindLending AssetKind = "lending"
	// KindConcentratedLiquidity represents a concentrated-liquidity pool position
	KindConcentratedLiquidity AssetKind = "concentrated_liquidity"
	// KindReceipt represents a receipt token issued by another vault
	KindReceipt AssetKind = "receipt"
)

// ReceiptKind represents the intent recorded on a pending request receipt
type ReceiptKind string

const (
	// ReceiptDeposit represents a pending deposit request
	ReceiptDeposit ReceiptKind = "deposit"
	// ReceiptWithdraw represents a pending withdrawal request
	ReceiptWithdraw ReceiptKind = "withdraw"
)

// AssetTypeID uniquely identifies one tracked asset type within a vault
type AssetTypeID string

// AccountRole represents an API caller's access class
type AccountRole string

const (
	// RoleUser represents a depositor or receipt holder
	RoleUser AccountRole = "user"
	// RoleOperator represents a strategy operator or administrator
	RoleOperator AccountRole = "operator"
)

// AssetEntry is the cached valuation for one tracked asset type.
// Exactly one entry exists per registered type; creation and removal are
// atomic with the underlying holding (an orphaned entry blocks re-registration).
type AssetEntry struct {
	TypeID      AssetTypeID     `json:"typeId"`
	Kind        AssetKind       `json:"kind"`
	ValueUSD    decimal.Decimal `json:"valueUsd"` // signed: underwater positions contribute negatively
	LastUpdated time.Time       `json:"lastUpdated"`
}

// Holding represents one asset held in (or borrowed from) vault custody
type Holding struct {
	TypeID AssetTypeID     `json:"typeId"`
	Kind   AssetKind       `json:"kind"`
	Units  decimal.Decimal `json:"units"`
	// Handle is the opaque strategy-side identifier the AssetValuer resolves
	// (market address, pool position id, issuing vault id for receipts).
	Handle string `json:"handle"`
}

// TypeSet is a set of asset type identifiers
type TypeSet map[AssetTypeID]struct{}

// NewTypeSet builds a set from the given identifiers
func NewTypeSet(ids ...AssetTypeID) TypeSet {
	s := make(TypeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts an identifier into the set
func (s TypeSet) Add(id AssetTypeID) { s[id] = struct{}{} }

// Contains reports whether the identifier is in the set
func (s TypeSet) Contains(id AssetTypeID) bool {
	_, ok := s[id]
	return ok
}

// Equal reports whether both sets contain exactly the same identifiers
func (s TypeSet) Equal(other TypeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// Subset reports whether every identifier in s is also in other
func (s TypeSet) Subset(other TypeSet) bool {
	for id := range s {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// IDs returns the identifiers in the set (order unspecified)
func (s TypeSet) IDs() []AssetTypeID {
	ids := make([]AssetTypeID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Clone returns an independent copy of the set
func (s TypeSet) Clone() TypeSet {
	c := make(TypeSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// OperationRecord is the single carrier of in-progress operation state.
// It exists iff the vault status is during_operation, is created by
// StartOperation and destroyed only by a successful close (or an admin
// force release after the operation timeout).
type OperationRecord struct {
	ID                 string          `json:"id"`
	Phase              OperationPhase  `json:"phase"`
	BaselineTotalUSD   decimal.Decimal `json:"baselineTotalUsd"`
	BaselineShares     decimal.Decimal `json:"baselineShares"`
	BorrowedTypes      TypeSet         `json:"borrowedTypes"`
	RevaluedTypes      TypeSet         `json:"revaluedTypes"`
	ValueUpdateEnabled bool            `json:"valueUpdateEnabled"`
	StartedAt          time.Time       `json:"startedAt"`
}

// LossState tracks cumulative loss for the current accounting epoch
type LossState struct {
	EpochID             uint64          `json:"epochId"`
	CurEpochLoss        decimal.Decimal `json:"curEpochLoss"`
	CurEpochBaselineUSD decimal.Decimal `json:"curEpochBaselineUsd"`
	ToleranceFraction   decimal.Decimal `json:"toleranceFraction"`
	EpochStartedAt      time.Time       `json:"epochStartedAt"`
}

// Receipt is a user-held token recording a pending deposit or withdrawal.
// Cancellation and claim authorization follow the current holder, not the
// creator: transferring the receipt invalidates the original creator's
// authorization.
type Receipt struct {
	ID        string          `json:"id"`
	VaultID   string          `json:"vaultId"`
	Kind      ReceiptKind     `json:"kind"`
	Holder    string          `json:"holder"`
	AmountUSD decimal.Decimal `json:"amountUsd"` // deposit requests
	Shares    decimal.Decimal `json:"shares"`    // withdrawal requests
	CreatedAt time.Time       `json:"createdAt"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
