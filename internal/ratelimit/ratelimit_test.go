package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestLimiter(t *testing.T, limit int64, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := New("redis://"+mr.Addr(), limit, window)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "1.2.3.4"); err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, "1.2.3.4"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Allow() over limit error = %v, want ErrRateLimited", err)
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if err := l.Allow(ctx, "a"); err != nil {
		t.Fatalf("Allow(a) error = %v", err)
	}
	if err := l.Allow(ctx, "b"); err != nil {
		t.Fatalf("Allow(b) error = %v", err)
	}
	if err := l.Allow(ctx, "a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Allow(a) second call error = %v, want ErrRateLimited", err)
	}
}

func TestWindowExpiryResetsBudget(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if err := l.Allow(ctx, "a"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	mr.FastForward(61 * time.Second)
	if err := l.Allow(ctx, "a"); err != nil {
		t.Fatalf("Allow() after window error = %v", err)
	}
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	l, err := New("", 1, time.Minute)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := l.Allow(context.Background(), "a"); err != nil {
			t.Fatalf("disabled limiter returned %v", err)
		}
	}
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	if err := l.Allow(context.Background(), "a"); err != nil {
		t.Fatalf("Allow() with dead redis error = %v, want nil (fail open)", err)
	}
}
