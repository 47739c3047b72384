// Package mocks holds testify mocks for the domain ports.
package mocks

import (
	"context"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/mock"
)

// MockQuerier is a mock type for the Querier type
type MockQuerier struct {
	mock.Mock
}

// Fetch provides a mock function with given fields: ctx, sql, args
func (_m *MockQuerier) Fetch(ctx context.Context, sql string, args ...any) (dataframe.DataFrame, error) {
	ret := _m.Called(ctx, sql, args)

	var r0 dataframe.DataFrame
	if rf, ok := ret.Get(0).(func(context.Context, string, []any) dataframe.DataFrame); ok {
		r0 = rf(ctx, sql, args)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(dataframe.DataFrame)
	}
	return r0, ret.Error(1)
}
