package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWait(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms, burst 1.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	// First call consumes the initial token immediately.
	if err := l.Wait(ctx, "provider"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "provider"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterTargetsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "provider"); err != nil {
		t.Fatal(err)
	}

	// The store bucket must not be drained by provider calls.
	start := time.Now()
	if err := l.Wait(ctx, "store"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("store target blocked unexpectedly")
	}
}

func TestLimiterDisabledByZeroRPS(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx, "provider"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("expected uncapped waits to return immediately")
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "provider"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "provider"); err == nil {
		t.Fatal("expected context deadline to abort the wait")
	}
}
