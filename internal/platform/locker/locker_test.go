package locker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, token, err := l.TryLock(ctx, "account-close:t:1", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("expected first lock to succeed, got ok=%v token=%q err=%v", ok, token, err)
	}

	ok, _, err = l.TryLock(ctx, "account-close:t:1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second lock to fail, got ok=%v err=%v", ok, err)
	}

	ok, _, _ = l.TryLock(ctx, "account-close:t:2", time.Minute)
	if !ok {
		t.Error("expected independent key to lock")
	}

	if err := l.Unlock(ctx, "account-close:t:1", token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	ok, _, _ = l.TryLock(ctx, "account-close:t:1", time.Minute)
	if !ok {
		t.Error("expected lock to be free after unlock")
	}
}

func TestMemoryLocker_WrongToken(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	l.TryLock(ctx, "k", time.Minute)

	if err := l.Unlock(ctx, "k", "not-mine"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, first, _ := l.TryLock(ctx, "k", time.Second)
	now = now.Add(2 * time.Second)

	ok, second, _ := l.TryLock(ctx, "k", time.Second)
	if !ok {
		t.Fatal("expected expired lock to be reacquired")
	}
	if first == second {
		t.Error("expected a fresh token")
	}
	if err := l.Unlock(ctx, "k", first); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected stale token to be rejected, got %v", err)
	}
}

func TestMemoryLocker_Concurrent(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := l.TryLock(ctx, "k", time.Minute); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}
