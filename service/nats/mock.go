package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu               sync.RWMutex
	publishedEvents  []*TransferEvent
	publishedBalance []*BalanceUpdate
	publishError     error
	balanceError     error
	closed           bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*TransferEvent, 0),
	}
}

// PublishTransfer records the event and returns any configured error.
func (m *MockPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishBalance records the update and returns any configured error.
func (m *MockPublisher) PublishBalance(ctx context.Context, update *BalanceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balanceError != nil {
		return m.balanceError
	}

	m.publishedBalance = append(m.publishedBalance, update)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published transfer events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*TransferEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published transfer events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsForUser returns events published for a specific user.
func (m *MockPublisher) GetPublishedEventsForUser(userID string) []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransferEvent, 0)
	for _, event := range m.publishedEvents {
		if event.UserID == userID {
			events = append(events, event)
		}
	}
	return events
}

// GetPublishedBalances returns all published balance updates (for testing).
func (m *MockPublisher) GetPublishedBalances() []*BalanceUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	updates := make([]*BalanceUpdate, len(m.publishedBalance))
	copy(updates, m.publishedBalance)
	return updates
}

// SetPublishError configures the mock to return an error on PublishTransfer.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetBalanceError configures the mock to return an error on PublishBalance.
func (m *MockPublisher) SetBalanceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*TransferEvent, 0)
	m.publishedBalance = nil
	m.publishError = nil
	m.balanceError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
