package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/querypanda/internal/domain"
)

// MockCheckpointStore is a mock type for the CheckpointStore type
type MockCheckpointStore struct {
	mock.Mock
}

// Load provides a mock function with given fields: ctx
func (_m *MockCheckpointStore) Load(ctx context.Context) (domain.Checkpoint, bool, error) {
	ret := _m.Called(ctx)
	var r0 domain.Checkpoint
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(domain.Checkpoint)
	}
	return r0, ret.Bool(1), ret.Error(2)
}

// Save provides a mock function with given fields: ctx, cp
func (_m *MockCheckpointStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	return _m.Called(ctx, cp).Error(0)
}

// Clear provides a mock function with given fields: ctx
func (_m *MockCheckpointStore) Clear(ctx context.Context) error {
	return _m.Called(ctx).Error(0)
}
