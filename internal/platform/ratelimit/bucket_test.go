package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the bucket without real sleeps: the sleep hook advances
// the clock instead of blocking.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBucket(capacity int, window time.Duration) (*Bucket, *fakeClock) {
	clock := newFakeClock()
	b := NewBucket(capacity, window)
	b.now = clock.Now
	b.lastRefill = clock.Now()
	b.sleep = func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}
	return b, clock
}

func TestBucket_NeverExceedsCapacityInRollingWindow(t *testing.T) {
	t.Parallel()

	const capacity = 10
	window := time.Minute
	b, clock := newTestBucket(capacity, window)

	grants := make([]time.Time, 0, 100)
	for i := 0; i < 100; i++ {
		if err := b.Acquire(context.Background(), 2*window); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		grants = append(grants, clock.Now())
	}

	for i := range grants {
		count := 1
		for j := i + 1; j < len(grants); j++ {
			if grants[j].Sub(grants[i]) < window {
				count++
			}
		}
		if count > capacity {
			t.Fatalf("%d grants inside rolling window starting at grant %d, cap %d", count, i, capacity)
		}
	}
}

func TestBucket_EnforcesMinimumSpacing(t *testing.T) {
	t.Parallel()

	b, clock := newTestBucket(10, time.Minute)
	spacing := time.Minute / 10

	var last time.Time
	for i := 0; i < 20; i++ {
		if err := b.Acquire(context.Background(), 2*time.Minute); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		now := clock.Now()
		if !last.IsZero() && now.Sub(last) < spacing {
			t.Fatalf("grants %v apart, want at least %v", now.Sub(last), spacing)
		}
		last = now
	}
}

func TestBucket_AcquireTimesOut(t *testing.T) {
	t.Parallel()

	b, _ := newTestBucket(2, time.Minute)

	// Drain the bucket.
	for i := 0; i < 2; i++ {
		if err := b.Acquire(context.Background(), time.Minute); err != nil {
			t.Fatalf("drain acquire %d: %v", i, err)
		}
	}

	err := b.Acquire(context.Background(), time.Second)
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("got %v, want ErrNoToken", err)
	}
}

func TestBucket_AcquireHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	b, clock := newTestBucket(1, time.Minute)
	if err := b.Acquire(context.Background(), time.Minute); err != nil {
		t.Fatalf("drain acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		clock.Advance(d)
		return ctx.Err()
	}

	if err := b.Acquire(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestBucket_RefillsOverTime(t *testing.T) {
	t.Parallel()

	b, clock := newTestBucket(10, time.Minute)
	for i := 0; i < 10; i++ {
		if err := b.Acquire(context.Background(), 2*time.Minute); err != nil {
			t.Fatalf("drain acquire %d: %v", i, err)
		}
	}

	clock.Advance(time.Minute)
	if got := b.Tokens(); got < 9.9 {
		t.Fatalf("tokens after full window = %v, want ~10", got)
	}
	if wait := b.WaitTime(); wait != 0 {
		t.Fatalf("wait time with full bucket = %v, want 0", wait)
	}
}

func TestBucket_WaitTimeAfterGrant(t *testing.T) {
	t.Parallel()

	b, _ := newTestBucket(10, time.Minute)
	if err := b.Acquire(context.Background(), time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Immediately after a grant the minimum spacing applies.
	wait := b.WaitTime()
	if wait <= 0 {
		t.Fatalf("wait time right after grant = %v, want > 0", wait)
	}
	if wait > time.Minute/10 {
		t.Fatalf("wait time %v exceeds minimum spacing", wait)
	}
}
