package mocks

import (
	"context"
	"time"

	"github.com/dukex/metis/pkg/lock"
	"github.com/stretchr/testify/mock"
)

// MockLocker is a mock implementation of lock.Locker interface.
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (lock.Release, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(lock.Release), args.Error(1)
}

// NopRelease is a lock.Release that does nothing.
var NopRelease lock.Release = func(context.Context) error {
	return nil
}
