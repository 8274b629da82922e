package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/journeyhq/journey/pkg/protocol"
)

// MockFeedSource is a mock implementation of the protocol.FeedSource
// interface.
type MockFeedSource struct {
	mock.Mock
}

func (m *MockFeedSource) Start(ctx context.Context, callback protocol.FeedCallback) error {
	args := m.Called(ctx, callback)

	return args.Error(0)
}

func (m *MockFeedSource) Stop(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockFeedSource) Validate() error {
	args := m.Called()

	return args.Error(0)
}
