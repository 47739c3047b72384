package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockUploader is a mock type for the Uploader type
type MockUploader struct {
	mock.Mock
}

// Upload provides a mock function with given fields: ctx, localPath
func (_m *MockUploader) Upload(ctx context.Context, localPath string) (string, error) {
	ret := _m.Called(ctx, localPath)
	return ret.String(0), ret.Error(1)
}
