package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/metis/pkg/lock"
)

// NewLocker returns a Redis locker when redisURL is set and a process-local one otherwise.
// The returned close function releases the Redis connection.
func NewLocker(ctx context.Context, logger *slog.Logger, redisURL string) (lock.Locker, func() error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "No Redis URL configured, dataset locks only cover this instance")

		return lock.NewLocalLocker(), func() error { return nil }
	}

	locker, err := lock.NewRedisLockerFromURL(ctx, redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to create Redis locker: %w", err))
	}

	return locker, locker.Close
}
