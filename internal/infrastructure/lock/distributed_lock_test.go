package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedLockExclusive(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)

	first := NewDistributedLock(client, "grant:lock:charge:ch_1", "owner-a", time.Minute)
	second := NewDistributedLock(client, "grant:lock:charge:ch_1", "owner-b", time.Minute)

	ok, err := first.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = second.TryLock(ctx)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ok {
		t.Fatal("expected second lock to fail while first is held")
	}

	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = second.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("expected lock to be free after unlock, ok=%v err=%v", ok, err)
	}
}

func TestUnlockDoesNotReleaseForeignLock(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)

	holder := NewDistributedLock(client, "k", "holder", time.Minute)
	intruder := NewDistributedLock(client, "k", "intruder", time.Minute)

	if ok, _ := holder.TryLock(ctx); !ok {
		t.Fatal("expected holder to acquire")
	}
	if err := intruder.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, err := mr.Get("k")
	if err != nil || got != "holder" {
		t.Fatalf("expected key still owned by holder, got %q err=%v", got, err)
	}
}

func TestLockGivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)

	held := NewDistributedLock(client, "busy", "a", time.Minute)
	if ok, _ := held.TryLock(ctx); !ok {
		t.Fatal("expected first acquire")
	}

	waiter := NewDistributedLock(client, "busy", "b", time.Minute)
	err := waiter.Lock(ctx, time.Millisecond, 3)
	if !errors.Is(err, ErrLockFailed) {
		t.Fatalf("expected ErrLockFailed, got %v", err)
	}
}

func TestNilClientLockerAlwaysSucceeds(t *testing.T) {
	locker := NewRedisLocker(nil, time.Second)
	l, err := locker.Acquire(context.Background(), ChargeLockKey("x"), "owner")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}
