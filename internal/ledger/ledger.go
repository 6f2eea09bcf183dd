// Package ledger provides the per-asset-type valuation cache for a vault.
//
// The ledger is the single source of truth for "how much is each tracked
// asset type worth and how recently was that checked". Freshness is enforced
// in one pass over all tracked types at read time, rather than scattered
// per-call checks in strategy adaptors, so the operation state machine can
// make an atomic before/after comparison.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/types"
)

// Ledger caches one signed USD valuation per registered asset type.
// It carries no locking: the owning engine serializes all writes.
type Ledger struct {
	entries map[types.AssetTypeID]*types.AssetEntry
	// maxStaleness is the longest a cached value may age before reads fail.
	// A zero window requires a refresh in the same logical step as the read.
	maxStaleness time.Duration
}

// New creates an empty ledger with the given staleness window
func New(maxStaleness time.Duration) *Ledger {
	return &Ledger{
		entries:      make(map[types.AssetTypeID]*types.AssetEntry),
		maxStaleness: maxStaleness,
	}
}

// MaxStaleness returns the configured staleness window
func (l *Ledger) MaxStaleness() time.Duration {
	return l.maxStaleness
}

// Register creates the valuation entry for a newly tracked asset type.
// The caller must create the underlying holding in the same step; the pairing
// is what keeps entry and holding from drifting apart.
func (l *Ledger) Register(typeID types.AssetTypeID, kind types.AssetKind, now time.Time) error {
	if _, exists := l.entries[typeID]; exists {
		return errors.NewConflictError("asset type already registered: " + string(typeID))
	}
	l.entries[typeID] = &types.AssetEntry{
		TypeID:      typeID,
		Kind:        kind,
		ValueUSD:    decimal.Zero,
		LastUpdated: now,
	}
	return nil
}

// Deregister removes every ledger-side record for the asset type, value and
// timestamp both. Partial cleanup would permanently block re-registration.
func (l *Ledger) Deregister(typeID types.AssetTypeID) error {
	if _, exists := l.entries[typeID]; !exists {
		return errors.NewNotFoundError("asset type", string(typeID))
	}
	delete(l.entries, typeID)
	return nil
}

// Refresh overwrites the cached value and timestamp for one type.
// Idempotent: refreshing twice with identical arguments yields identical state.
func (l *Ledger) Refresh(typeID types.AssetTypeID, valueUSD decimal.Decimal, now time.Time) error {
	entry, exists := l.entries[typeID]
	if !exists {
		return errors.NewNotFoundError("asset type", string(typeID))
	}
	entry.ValueUSD = valueUSD
	entry.LastUpdated = now
	return nil
}

// TotalValue sums every tracked entry's signed value, failing with
// STALE_VALUATION if any entry is older than the staleness window. A stale
// entry fails the read; it is never silently excluded from the sum.
func (l *Ledger) TotalValue(now time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, entry := range l.entries {
		age := now.Sub(entry.LastUpdated)
		if age > l.maxStaleness {
			return decimal.Zero, errors.NewStaleValuationError(
				entry.TypeID, age.Milliseconds(), l.maxStaleness.Milliseconds())
		}
		total = total.Add(entry.ValueUSD)
	}
	return total, nil
}

// Entry returns a copy of the entry for one asset type
func (l *Ledger) Entry(typeID types.AssetTypeID) (types.AssetEntry, error) {
	entry, exists := l.entries[typeID]
	if !exists {
		return types.AssetEntry{}, errors.NewNotFoundError("asset type", string(typeID))
	}
	return *entry, nil
}

// Has reports whether the asset type is registered
func (l *Ledger) Has(typeID types.AssetTypeID) bool {
	_, exists := l.entries[typeID]
	return exists
}

// Types returns the set of registered asset types
func (l *Ledger) Types() types.TypeSet {
	s := make(types.TypeSet, len(l.entries))
	for id := range l.entries {
		s[id] = struct{}{}
	}
	return s
}

// Entries returns copies of all entries (order unspecified)
func (l *Ledger) Entries() []types.AssetEntry {
	out := make([]types.AssetEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, *entry)
	}
	return out
}

// Restore replaces ledger contents from persisted entries
func (l *Ledger) Restore(entries []types.AssetEntry) {
	l.entries = make(map[types.AssetTypeID]*types.AssetEntry, len(entries))
	for i := range entries {
		e := entries[i]
		l.entries[e.TypeID] = &e
	}
}
