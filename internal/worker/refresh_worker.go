package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vault-engine/internal/logging"
	"github.com/vault-engine/internal/service"
	"github.com/vault-engine/internal/types"
)

// VaultRefresher is the slice of the vault service the refresh worker drives
type VaultRefresher interface {
	VaultIDs() []string
	GetVault(ctx context.Context, vaultID string) (*service.VaultView, error)
	RefreshAssetValue(ctx context.Context, vaultID string, typeID types.AssetTypeID) error
}

// RefreshWorker keeps cached valuations fresh by periodically re-reading
// oracle prices for the stalest asset entries across all vaults. Without it
// every valuation would age toward the staleness bound and reads would
// start failing between operator touches.
type RefreshWorker struct {
	vaults          VaultRefresher
	queue           *StalenessQueue
	pollInterval    time.Duration
	threshold       time.Duration
	maxPerCycle     int
	running         bool
	mu              sync.RWMutex
	stopCh          chan struct{}
	doneCh          chan struct{}
	lastCycleTime   time.Time
	lastCycleCount  int
	lastCycleErrors int
}

// RefreshWorkerConfig holds configuration for a refresh worker
type RefreshWorkerConfig struct {
	Vaults       VaultRefresher
	PollInterval time.Duration
	// Threshold is the valuation age at which an entry becomes due for refresh
	Threshold time.Duration
	// MaxPerCycle caps oracle reads per cycle so one slow feed cannot
	// starve the rest of the fleet
	MaxPerCycle int
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(cfg *RefreshWorkerConfig) (*RefreshWorker, error) {
	if cfg.Vaults == nil {
		return nil, fmt.Errorf("vault service cannot be nil")
	}
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("refresh threshold must be positive, got %v", cfg.Threshold)
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 30 * time.Second
	}

	maxPerCycle := cfg.MaxPerCycle
	if maxPerCycle <= 0 {
		maxPerCycle = 50
	}

	return &RefreshWorker{
		vaults:       cfg.Vaults,
		queue:        NewStalenessQueue(),
		pollInterval: pollInterval,
		threshold:    cfg.Threshold,
		maxPerCycle:  maxPerCycle,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start begins the refresh loop
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.Infof("Starting refresh worker with interval %v, threshold %v", w.pollInterval, w.threshold)

	go w.pollLoop(ctx)

	return nil
}

// Stop gracefully stops the refresh worker
func (w *RefreshWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		logging.Info("Refresh worker stopped gracefully")
	case <-ctx.Done():
		logging.Warn("Refresh worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// pollLoop is the main refresh loop that runs in a goroutine
func (w *RefreshWorker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Refresh worker: context cancelled")
			return
		case <-w.stopCh:
			logging.Info("Refresh worker: stop signal received")
			return
		case <-ticker.C:
			refreshed, errs := w.RunCycle(ctx)

			w.mu.Lock()
			w.lastCycleTime = time.Now()
			w.lastCycleCount = refreshed
			w.lastCycleErrors = errs
			w.mu.Unlock()

			if refreshed > 0 || errs > 0 {
				logging.Infof("Refresh cycle: %d entries refreshed, %d errors", refreshed, errs)
			}
		}
	}
}

// RunCycle scans all vaults and refreshes the stalest due entries.
// Returns the number of entries refreshed and the number of failures.
func (w *RefreshWorker) RunCycle(ctx context.Context) (refreshed, errs int) {
	now := time.Now().UTC()

	targets := w.collectTargets(ctx, now)
	w.queue.Rebuild(OlderThan(targets, w.threshold, now))

	for _, target := range w.queue.Take(w.maxPerCycle) {
		if err := w.vaults.RefreshAssetValue(ctx, target.VaultID, target.TypeID); err != nil {
			logging.WithError(err).WithFields(map[string]interface{}{
				"vault_id": target.VaultID,
				"type_id":  target.TypeID,
			}).Warn("Failed to refresh asset value")
			errs++
			continue
		}
		refreshed++
	}
	return refreshed, errs
}

// collectTargets gathers refreshable entries across all vaults. Principal
// entries are skipped: their value only moves on deposits and withdrawals.
// Entries borrowed by an open operation are skipped too: revaluing them
// counts as operation progress, which belongs to the operator.
func (w *RefreshWorker) collectTargets(ctx context.Context, now time.Time) []RefreshTarget {
	var targets []RefreshTarget
	for _, vaultID := range w.vaults.VaultIDs() {
		view, err := w.vaults.GetVault(ctx, vaultID)
		if err != nil {
			logging.WithError(err).WithField("vault_id", vaultID).Warn("Failed to load vault for refresh scan")
			continue
		}
		if view.Status == types.StatusDisabled {
			continue
		}
		for _, entry := range view.Entries {
			if entry.Kind == types.KindPrincipal {
				continue
			}
			if view.Operation != nil && view.Operation.BorrowedTypes.Contains(entry.TypeID) {
				continue
			}
			targets = append(targets, RefreshTarget{
				VaultID:     vaultID,
				TypeID:      entry.TypeID,
				LastUpdated: entry.LastUpdated,
			})
		}
	}
	return targets
}

// RefreshWorkerStatus represents the current status of the refresh worker
type RefreshWorkerStatus struct {
	Running         bool
	LastCycleTime   time.Time
	LastCycleCount  int
	LastCycleErrors int
	PendingTargets  int
}

// GetStatus returns current worker status
func (w *RefreshWorker) GetStatus() *RefreshWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &RefreshWorkerStatus{
		Running:         w.running,
		LastCycleTime:   w.lastCycleTime,
		LastCycleCount:  w.lastCycleCount,
		LastCycleErrors: w.lastCycleErrors,
		PendingTargets:  w.queue.Len(),
	}
}
