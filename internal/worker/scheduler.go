package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vault-engine/internal/logging"
)

// EpochRoller is the slice of the vault service the scheduler drives
type EpochRoller interface {
	BeginEpochAll(ctx context.Context) (rolled, skipped []string)
	ReleaseStuckOperations(ctx context.Context) (released []string)
}

// Scheduler drives the time-based maintenance of the vault fleet: the
// cron-scheduled epoch roll and the watchdog that force-releases
// operations abandoned past their timeout.
type Scheduler struct {
	vaults           EpochRoller
	cron             *cron.Cron
	epochCadence     string
	watchdogInterval time.Duration
	running          bool
	mu               sync.Mutex
	stopCh           chan struct{}
	doneCh           chan struct{}
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	Vaults EpochRoller
	// EpochCadence is a standard 5-field cron expression
	EpochCadence     string
	WatchdogInterval time.Duration
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg.Vaults == nil {
		return nil, fmt.Errorf("vault service cannot be nil")
	}
	if cfg.EpochCadence == "" {
		return nil, fmt.Errorf("epoch cadence cannot be empty")
	}

	watchdogInterval := cfg.WatchdogInterval
	if watchdogInterval == 0 {
		watchdogInterval = time.Minute
	}

	return &Scheduler{
		vaults:           cfg.Vaults,
		cron:             cron.New(),
		epochCadence:     cfg.EpochCadence,
		watchdogInterval: watchdogInterval,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}, nil
}

// Start registers the epoch job and launches the watchdog loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	_, err := s.cron.AddFunc(s.epochCadence, func() {
		s.RollEpochs(ctx)
	})
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("invalid epoch cadence %q: %w", s.epochCadence, err)
	}

	logging.Infof("Starting scheduler: epoch cadence %q, watchdog interval %v", s.epochCadence, s.watchdogInterval)

	s.cron.Start()
	go s.watchdogLoop(ctx)

	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Wait for any in-flight cron job
	select {
	case <-cronCtx.Done():
		logging.Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		logging.Warn("Scheduler stop timed out waiting for epoch job")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// RollEpochs rolls the loss epoch on every vault that will accept it
func (s *Scheduler) RollEpochs(ctx context.Context) {
	rolled, skipped := s.vaults.BeginEpochAll(ctx)
	logging.WithFields(map[string]interface{}{
		"rolled":  len(rolled),
		"skipped": len(skipped),
	}).Info("Epoch roll complete")
	if len(skipped) > 0 {
		logging.WithField("vault_ids", skipped).Warn("Vaults skipped epoch roll mid-operation")
	}
}

// watchdogLoop periodically force-releases operations past their timeout
func (s *Scheduler) watchdogLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Watchdog: context cancelled")
			return
		case <-s.stopCh:
			logging.Info("Watchdog: stop signal received")
			return
		case <-ticker.C:
			released := s.vaults.ReleaseStuckOperations(ctx)
			if len(released) > 0 {
				logging.WithField("vault_ids", released).Warn("Force released stuck operations")
			}
		}
	}
}
