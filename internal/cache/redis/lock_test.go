package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	return &Client{rdb: redis.NewClient(&redis.Options{Addr: mr.Addr()})}, mr
}

func TestLockManagerAcquireRelease(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	token, err := lm.Acquire(ctx, "strategy:1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := lm.Acquire(ctx, "strategy:1", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld on double acquire, got %v", err)
	}

	ok, err := lm.Release(ctx, "strategy:1", "wrong-token")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok {
		t.Fatalf("expected release with wrong token to fail")
	}

	ok, err = lm.Release(ctx, "strategy:1", token)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !ok {
		t.Fatalf("expected release with correct token to succeed")
	}

	if _, err := lm.Acquire(ctx, "strategy:1", time.Minute); err != nil {
		t.Fatalf("expected re-acquire after release to succeed, got %v", err)
	}
}

func TestLockManagerExtend(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	token, err := lm.Acquire(ctx, "strategy:2", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ok, err := lm.Extend(ctx, "strategy:2", token, time.Minute)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !ok {
		t.Fatalf("expected extend to succeed for owned lock")
	}

	ok, err = lm.Extend(ctx, "strategy:2", "someone-else", time.Minute)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ok {
		t.Fatalf("expected extend to fail for non-owning token")
	}
}

func TestExecuteWithLockReleasesOnError(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := lm.ExecuteWithLock(ctx, "strategy:3", time.Minute, func(context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	// Lock must have been released despite fn's error.
	token, err := lm.Acquire(ctx, "strategy:3", time.Minute)
	if err != nil {
		t.Fatalf("expected lock to be free after ExecuteWithLock, got %v", err)
	}
	_, _ = lm.Release(ctx, "strategy:3", token)
}

func TestWaitForTimesOut(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	if _, err := lm.Acquire(ctx, "strategy:4", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err := lm.WaitFor(ctx, "strategy:4", 120*time.Millisecond, time.Minute)
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld timeout, got %v", err)
	}
}
