package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu            sync.Mutex
	started       []ReconcileTransferInput
	sweepInterval time.Duration
	sweepMinAge   time.Duration
	sweepExists   bool
	startErr      error
	upsertErr     error
	deleteErr     error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// StartReconcileWorkflow records that a reconciliation was started.
func (m *MockScheduler) StartReconcileWorkflow(ctx context.Context, transferID, signature string) error {
	if m.startErr != nil {
		return m.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = append(m.started, ReconcileTransferInput{
		TransferID: transferID,
		Signature:  signature,
	})
	return nil
}

// UpsertSweepSchedule records the sweep schedule configuration.
func (m *MockScheduler) UpsertSweepSchedule(ctx context.Context, interval, minAge time.Duration) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepInterval = interval
	m.sweepMinAge = minAge
	m.sweepExists = true
	return nil
}

// DeleteSweepSchedule records that the sweep schedule was deleted.
func (m *MockScheduler) DeleteSweepSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sweepExists {
		return fmt.Errorf("schedule %q not found", sweepScheduleID)
	}
	m.sweepExists = false
	return nil
}

// SetStartError makes StartReconcileWorkflow return an error.
func (m *MockScheduler) SetStartError(err error) {
	m.startErr = err
}

// SetUpsertError makes UpsertSweepSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.upsertErr = err
}

// SetDeleteError makes DeleteSweepSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// StartedReconciliations returns the recorded reconciliation starts.
func (m *MockScheduler) StartedReconciliations() []ReconcileTransferInput {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := make([]ReconcileTransferInput, len(m.started))
	copy(started, m.started)
	return started
}

// SweepScheduleExists checks whether the sweep schedule is in place.
func (m *MockScheduler) SweepScheduleExists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepExists
}

// SweepInterval returns the recorded sweep interval.
func (m *MockScheduler) SweepInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepInterval
}

// Reset clears all recorded state and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = nil
	m.sweepInterval = 0
	m.sweepMinAge = 0
	m.sweepExists = false
	m.startErr = nil
	m.upsertErr = nil
	m.deleteErr = nil
}

var _ Scheduler = (*MockScheduler)(nil)
