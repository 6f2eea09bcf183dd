package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/vault-engine/internal/types"
)

// RefreshTarget identifies one asset entry due for a valuation refresh
type RefreshTarget struct {
	VaultID     string
	TypeID      types.AssetTypeID
	LastUpdated time.Time
}

// StalenessQueue orders asset entries by valuation age so the refresh
// worker spends its per-cycle oracle budget on the stalest entries first.
type StalenessQueue struct {
	targets []RefreshTarget
	mu      sync.RWMutex
}

// NewStalenessQueue creates an empty staleness queue
func NewStalenessQueue() *StalenessQueue {
	return &StalenessQueue{
		targets: make([]RefreshTarget, 0),
	}
}

// Rebuild replaces the queue contents, sorted stalest first
func (q *StalenessQueue) Rebuild(targets []RefreshTarget) {
	sorted := make([]RefreshTarget, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LastUpdated.Before(sorted[j].LastUpdated)
	})

	q.mu.Lock()
	q.targets = sorted
	q.mu.Unlock()
}

// Take removes and returns up to n targets from the front of the queue
func (q *StalenessQueue) Take(n int) []RefreshTarget {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.targets) {
		n = len(q.targets)
	}
	taken := q.targets[:n]
	q.targets = q.targets[n:]
	return taken
}

// Len returns the number of pending targets
func (q *StalenessQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.targets)
}

// OlderThan returns the targets whose valuation age exceeds the threshold
func OlderThan(targets []RefreshTarget, threshold time.Duration, now time.Time) []RefreshTarget {
	var out []RefreshTarget
	for _, t := range targets {
		if now.Sub(t.LastUpdated) >= threshold {
			out = append(out, t)
		}
	}
	return out
}
