// Package lock provides named, expiring mutual exclusion across orchestrator instances.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock is held by another owner")

// Release gives a lock back. Releasing an expired or stolen lock is a no-op.
type Release func(ctx context.Context) error

// Locker hands out named locks that expire after ttl when never released.
type Locker interface {
	// TryLock returns ErrNotAcquired without waiting when the lock is held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// DatasetKey names the lock serializing work on one dataset.
func DatasetKey(datasetID string) string {
	return "metis:lock:dataset:" + datasetID
}
