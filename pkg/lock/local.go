package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type localEntry struct {
	token   string
	expires time.Time
}

// LocalLocker keeps locks in process memory. It only coordinates goroutines of one instance.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]localEntry
	now   func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		locks: make(map[string]localEntry),
		now:   time.Now,
	}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	entry, held := l.locks[key]
	if held && now.Before(entry.expires) {
		return nil, ErrNotAcquired
	}

	token := uuid.NewString()
	l.locks[key] = localEntry{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		if current, ok := l.locks[key]; ok && current.token == token {
			delete(l.locks, key)
		}

		return nil
	}, nil
}
