package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// ErrNoToken is returned when a token could not be acquired inside the
// caller's wait budget.
var ErrNoToken = errors.New("rate limit token not acquired")

// Bucket is a token bucket sized to an upstream request ceiling, e.g.
// 10 requests per rolling 60 seconds. Tokens refill linearly and are
// recomputed lazily on acquisition, so there is no background timer.
// A minimum spacing of window/capacity between grants smooths bursts even
// while tokens remain.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	window     time.Duration
	minSpacing time.Duration
	tokens     float64
	lastRefill time.Time
	lastGrant  time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Status is a point-in-time view of the bucket, exposed through the
// service statistics query.
type Status struct {
	Capacity int           `json:"capacity"`
	Window   time.Duration `json:"window"`
	Tokens   float64       `json:"tokens"`
	WaitTime time.Duration `json:"wait_time"`
}

func NewBucket(capacity int, window time.Duration) *Bucket {
	if capacity < 1 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	b := &Bucket{
		capacity:   float64(capacity),
		window:     window,
		minSpacing: window / time.Duration(capacity),
		tokens:     float64(capacity),
		now:        time.Now,
		sleep:      sleepContext,
	}
	b.lastRefill = b.now()
	return b
}

// Acquire blocks until a token is granted, the timeout elapses, or ctx is
// cancelled. A non-positive timeout defaults to one full refill window.
func (b *Bucket) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = b.window
	}

	start := b.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := b.tryAcquire()
		if ok {
			return nil
		}

		if b.now().Sub(start)+wait > timeout {
			return ErrNoToken
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire attempts one grant and, on failure, reports how long the caller
// should wait before the next attempt.
func (b *Bucket) tryAcquire() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refillLocked(now)

	var spacing time.Duration
	if !b.lastGrant.IsZero() {
		if since := now.Sub(b.lastGrant); since < b.minSpacing {
			spacing = b.minSpacing - since
		}
	}

	if b.tokens >= 1 && spacing <= 0 {
		b.tokens--
		b.lastGrant = now
		return 0, true
	}

	wait := spacing
	if b.tokens < 1 {
		needed := 1 - b.tokens
		tokenWait := time.Duration(needed / b.capacity * float64(b.window))
		if tokenWait > wait {
			wait = tokenWait
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed.Seconds()/b.window.Seconds()*b.capacity)
	b.lastRefill = now
}

// Tokens returns the currently available token count.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.now())
	return b.tokens
}

// WaitTime reports the recommended wait before the next request would be
// granted, zero when a token is immediately available.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refillLocked(now)

	var spacing time.Duration
	if !b.lastGrant.IsZero() {
		if since := now.Sub(b.lastGrant); since < b.minSpacing {
			spacing = b.minSpacing - since
		}
	}
	if b.tokens >= 1 {
		return spacing
	}

	needed := 1 - b.tokens
	wait := time.Duration(needed / b.capacity * float64(b.window))
	if spacing > wait {
		wait = spacing
	}
	return wait
}

func (b *Bucket) Status() Status {
	b.mu.Lock()
	now := b.now()
	b.refillLocked(now)
	tokens := b.tokens
	b.mu.Unlock()

	return Status{
		Capacity: int(b.capacity),
		Window:   b.window,
		Tokens:   tokens,
		WaitTime: b.WaitTime(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
