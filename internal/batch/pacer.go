package batch

import (
	"context"
	"time"
)

// Pacer inserts backpressure between batch items. Wait returns early when
// the context is done; the batch then proceeds and lets the per-item
// operation observe the cancellation.
type Pacer interface {
	Wait(ctx context.Context)
}

// FixedDelay waits a constant duration between items. This mirrors the
// throttle the legacy clients applied when looping over bulk updates.
type FixedDelay struct {
	Delay time.Duration

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{Delay: delay, sleep: sleepContext}
}

func (p *FixedDelay) Wait(ctx context.Context) {
	if p.Delay <= 0 {
		return
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	p.sleep(ctx, p.Delay)
}

// TokenBucket allows a burst of items per interval: the first Burst items
// of each window pass immediately, then Wait blocks until the window rolls
// over. Backed by a wall-clock window rather than a goroutine refiller so
// it stays trivially testable.
type TokenBucket struct {
	Burst    int
	Interval time.Duration

	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration)
	windowStart time.Time
	used        int
}

func NewTokenBucket(burst int, interval time.Duration) *TokenBucket {
	return &TokenBucket{
		Burst:    burst,
		Interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (p *TokenBucket) Wait(ctx context.Context) {
	if p.Burst <= 0 || p.Interval <= 0 {
		return
	}
	now := p.now()
	if p.windowStart.IsZero() || now.Sub(p.windowStart) >= p.Interval {
		p.windowStart = now
		p.used = 0
	}
	if p.used < p.Burst {
		p.used++
		return
	}

	wait := p.Interval - now.Sub(p.windowStart)
	if wait > 0 {
		p.sleep(ctx, wait)
	}
	p.windowStart = p.now()
	p.used = 1
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
