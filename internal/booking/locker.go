package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Locker serializes every reservation attempt against one provider so the
// overlap check and the insert run as an indivisible unit.
type Locker interface {
	WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error
}

// MutexLocker is the in-process fallback for single-node deployments where
// no Redis is configured: one mutual-exclusion region per provider with a
// bounded wait.
type MutexLocker struct {
	mu   sync.Mutex
	sems map[uuid.UUID]chan struct{}
	wait time.Duration
}

func NewMutexLocker(wait time.Duration) *MutexLocker {
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &MutexLocker{
		sems: make(map[uuid.UUID]chan struct{}),
		wait: wait,
	}
}

func (l *MutexLocker) sem(providerID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.sems[providerID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.sems[providerID] = ch
	}
	return ch
}

func (l *MutexLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	ch := l.sem(providerID)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		defer func() { <-ch }()
		return fn(ctx)
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
