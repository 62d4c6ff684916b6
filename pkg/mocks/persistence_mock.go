package mocks

import (
	"context"
	"time"

	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockExecutionStore is a mock implementation of persistence.ExecutionStore interface.
type MockExecutionStore struct {
	mock.Mock
}

func (m *MockExecutionStore) Create(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionStore) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionStore) ClaimExecution(ctx context.Context, id string, claim persistence.Claim) (*models.Execution, error) {
	args := m.Called(ctx, id, claim)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionStore) IsCancelling(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionStore) SetCancellingState(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockExecutionStore) Overwrite(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionStore) PatchPlugins(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionStore) PatchMonitorInformation(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionStore) ExistsAndNotCompleted(ctx context.Context, datasetID string) (string, error) {
	args := m.Called(ctx, datasetID)

	return args.String(0), args.Error(1)
}

func (m *MockExecutionStore) StaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]*models.Execution, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockExecutionStore) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
