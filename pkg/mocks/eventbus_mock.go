package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
)

// MockEventBus is a mock implementation of the eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

// MockFeedBus is a mock implementation of the eventbus.FeedBus interface.
type MockFeedBus struct {
	mock.Mock
}

func (m *MockFeedBus) PublishRecordEvent(ctx context.Context, event *events.RecordEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockFeedBus) HandleRecordEvents(handler eventbus.FeedHandler) error {
	args := m.Called(handler)

	return args.Error(0)
}

func (m *MockFeedBus) SubscribeToRecordEvents(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockFeedBus) Close() error {
	args := m.Called()

	return args.Error(0)
}
