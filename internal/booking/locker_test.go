package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMutexLockerTimesOutWhileHeld(t *testing.T) {
	l := NewMutexLocker(100 * time.Millisecond)
	providerID := uuid.New()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithProviderLock(context.Background(), providerID, func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	err := l.WithProviderLock(context.Background(), providerID, func(context.Context) error {
		t.Error("critical section must not run while the lock is held")
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestMutexLockerIsPerProvider(t *testing.T) {
	l := NewMutexLocker(100 * time.Millisecond)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithProviderLock(context.Background(), uuid.New(), func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ran := false
	if err := l.WithProviderLock(context.Background(), uuid.New(), func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("other provider's lock must be free, got %v", err)
	}
	if !ran {
		t.Fatal("critical section did not run")
	}
}

func TestMutexLockerReleasesAfterError(t *testing.T) {
	l := NewMutexLocker(100 * time.Millisecond)
	providerID := uuid.New()
	boom := errors.New("boom")

	if err := l.WithProviderLock(context.Background(), providerID, func(context.Context) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error passed through, got %v", err)
	}

	if err := l.WithProviderLock(context.Background(), providerID, func(context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("lock must be released after an error, got %v", err)
	}
}

func TestMutexLockerHonorsContext(t *testing.T) {
	l := NewMutexLocker(5 * time.Second)
	providerID := uuid.New()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithProviderLock(context.Background(), providerID, func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.WithProviderLock(ctx, providerID, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}
