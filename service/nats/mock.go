package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher for tests. It records every
// event it is handed, in publish order.
type MockPublisher struct {
	mu     sync.Mutex
	events []*TransferEvent
}

// NewMockPublisher creates an empty mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishTransfer records one event.
func (m *MockPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// PublishTransferBatch records a batch of events.
func (m *MockPublisher) PublishTransferBatch(ctx context.Context, events []*TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// Close satisfies Publisher; the mock holds no connection.
func (m *MockPublisher) Close() error {
	return nil
}

// GetPublishedEvents returns a copy of everything published so far.
func (m *MockPublisher) GetPublishedEvents() []*TransferEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TransferEvent, len(m.events))
	copy(out, m.events)
	return out
}

// GetPublishedEventCount returns how many events have been published.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
