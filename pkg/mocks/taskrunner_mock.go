package mocks

import (
	"context"

	"github.com/dukex/metis/pkg/taskrunner"
	"github.com/stretchr/testify/mock"
)

// MockTaskRunner is a mock implementation of taskrunner.Client interface.
type MockTaskRunner struct {
	mock.Mock
}

func (m *MockTaskRunner) Submit(ctx context.Context, request taskrunner.TaskRequest) (string, error) {
	args := m.Called(ctx, request)

	return args.String(0), args.Error(1)
}

func (m *MockTaskRunner) Progress(ctx context.Context, topology, taskID string) (*taskrunner.TaskProgress, error) {
	args := m.Called(ctx, topology, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*taskrunner.TaskProgress), args.Error(1)
}

func (m *MockTaskRunner) Cancel(ctx context.Context, topology, taskID string) error {
	args := m.Called(ctx, topology, taskID)

	return args.Error(0)
}
