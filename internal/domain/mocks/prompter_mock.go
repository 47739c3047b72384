package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/querypanda/internal/domain"
)

// MockPrompter is a mock type for the Prompter type
type MockPrompter struct {
	mock.Mock
}

// Decide provides a mock function with given fields: ctx, cp
func (_m *MockPrompter) Decide(ctx context.Context, cp domain.Checkpoint) (domain.Decision, error) {
	ret := _m.Called(ctx, cp)
	var r0 domain.Decision
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(domain.Decision)
	}
	return r0, ret.Error(1)
}
