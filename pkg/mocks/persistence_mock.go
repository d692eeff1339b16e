package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/harvestman-flow/harvestman/pkg/models"
)

// MockPersistence is a mock implementation of the persistence.Persistence
// interface for exercising failure paths that real backends never hit.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Instances(ctx context.Context) ([]*models.Instance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Instance), args.Error(1)
}

func (m *MockPersistence) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Instance), args.Error(1)
}

func (m *MockPersistence) SaveInstance(ctx context.Context, instance *models.Instance) error {
	args := m.Called(ctx, instance)

	return args.Error(0)
}

func (m *MockPersistence) SaveEvaluation(ctx context.Context, evaluation *models.RuleEvaluation) error {
	args := m.Called(ctx, evaluation)

	return args.Error(0)
}

func (m *MockPersistence) Evaluations(ctx context.Context, filter models.EvaluationFilter) ([]*models.RuleEvaluation, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.RuleEvaluation), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
