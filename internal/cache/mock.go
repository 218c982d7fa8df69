package cache

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockMuteList struct {
	mock.Mock
}

func (m *MockMuteList) IsMuted(ctx context.Context, userId, senderId string) (bool, error) {
	args := m.Called(ctx, userId, senderId)
	return args.Bool(0), args.Error(1)
}
func (m *MockMuteList) Invalidate(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
