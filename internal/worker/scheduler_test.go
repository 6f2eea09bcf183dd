package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEpochRoller is a hand-rolled mock of EpochRoller
type mockEpochRoller struct {
	mu           sync.Mutex
	epochRolls   int
	releaseScans int
	released     []string
}

func (m *mockEpochRoller) BeginEpochAll(_ context.Context) (rolled, skipped []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochRolls++
	return []string{"vault-1"}, nil
}

func (m *mockEpochRoller) ReleaseStuckOperations(_ context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseScans++
	return m.released
}

func (m *mockEpochRoller) scans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseScans
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(&SchedulerConfig{EpochCadence: "0 0 * * *"})
	assert.Error(t, err)

	_, err = NewScheduler(&SchedulerConfig{Vaults: &mockEpochRoller{}})
	assert.Error(t, err)
}

func TestSchedulerRejectsInvalidCadence(t *testing.T) {
	s, err := NewScheduler(&SchedulerConfig{
		Vaults:       &mockEpochRoller{},
		EpochCadence: "not a cron expression",
	})
	require.NoError(t, err)

	assert.Error(t, s.Start(context.Background()))
}

func TestSchedulerRollEpochs(t *testing.T) {
	roller := &mockEpochRoller{}
	s, err := NewScheduler(&SchedulerConfig{
		Vaults:       roller,
		EpochCadence: "0 0 * * *",
	})
	require.NoError(t, err)

	s.RollEpochs(context.Background())

	assert.Equal(t, 1, roller.epochRolls)
}

func TestSchedulerWatchdogRuns(t *testing.T) {
	roller := &mockEpochRoller{released: []string{"vault-1"}}
	s, err := NewScheduler(&SchedulerConfig{
		Vaults:           roller,
		EpochCadence:     "0 0 * * *",
		WatchdogInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	deadline := time.Now().Add(2 * time.Second)
	for roller.scans() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))

	assert.Greater(t, roller.scans(), 0)
}

func TestSchedulerDoubleStartFails(t *testing.T) {
	s, err := NewScheduler(&SchedulerConfig{
		Vaults:           &mockEpochRoller{},
		EpochCadence:     "0 0 * * *",
		WatchdogInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
}
