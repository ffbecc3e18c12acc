package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory Scheduler and TransferSubmitter for
// tests. It tracks the single reconcile schedule and every submission
// handed to it.
type MockScheduler struct {
	mu          sync.Mutex
	scheduled   bool
	interval    time.Duration
	submissions []SubmitTransferInput
	submitErr   error
}

// NewMockScheduler creates an empty MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// CreateReconcileSchedule records the schedule, retuning the interval if
// it already exists.
func (m *MockScheduler) CreateReconcileSchedule(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = true
	m.interval = interval
	return nil
}

// DeleteReconcileSchedule removes the schedule. Deleting a schedule that
// does not exist is an error, matching the server behavior.
func (m *MockScheduler) DeleteReconcileSchedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.scheduled {
		return fmt.Errorf("schedule %q not found", reconcileScheduleID)
	}
	m.scheduled = false
	return nil
}

// SubmitTransfer records the submission and returns the derived
// workflow ID.
func (m *MockScheduler) SubmitTransfer(ctx context.Context, input SubmitTransferInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.submissions = append(m.submissions, input)
	return submitWorkflowID(input.TransferID), nil
}

// SetSubmitError makes SubmitTransfer fail with err.
func (m *MockScheduler) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// ScheduleExists reports whether the reconcile schedule is in place.
func (m *MockScheduler) ScheduleExists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled
}

// GetScheduleInterval returns the schedule's interval and whether the
// schedule exists.
func (m *MockScheduler) GetScheduleInterval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval, m.scheduled
}

// Submissions returns a copy of every recorded submission.
func (m *MockScheduler) Submissions() []SubmitTransferInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubmitTransferInput, len(m.submissions))
	copy(out, m.submissions)
	return out
}

// SubmissionCount returns how many submissions were recorded.
func (m *MockScheduler) SubmissionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submissions)
}

// Reset clears the schedule, submissions, and configured errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = false
	m.interval = 0
	m.submissions = nil
	m.submitErr = nil
}
