package throttle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CooldownError is returned while a shared cooldown is active.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active for another %s", e.Remaining.Round(time.Millisecond))
}

// Throttle admits outbound calls and accepts cooldown hints from responses.
type Throttle interface {
	Acquire(ctx context.Context) (release func(), err error)
	CoolDown(ctx context.Context, d time.Duration) error
}

// Gate composes a local token bucket, a shared sliding window, a shared lock
// and a shared cooldown. Every part must admit a call before it proceeds.
type Gate struct {
	Bucket   *TokenBucket
	Window   Window
	Limit    int
	Lock     Lock
	Cooldown Cooldown
	Clock    Clock
	Logger   *zap.Logger
}

// Acquire blocks until the call may go out. The returned release must be
// called once the outbound request finished.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	clock := g.clock()

	if err := g.checkCooldown(ctx); err != nil {
		return nil, err
	}

	if g.Bucket != nil {
		if err := g.Bucket.Wait(ctx); err != nil {
			return nil, err
		}
	}

	release := func() {}
	if g.Lock != nil {
		r, err := g.Lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		release = r
	}

	// another holder may have hit the quota while we waited for the lock
	if err := g.checkCooldown(ctx); err != nil {
		release()
		return nil, err
	}

	if g.Window != nil && g.Limit > 0 {
		if err := g.waitWindow(ctx, clock); err != nil {
			release()
			return nil, err
		}
		if err := g.checkCooldown(ctx); err != nil {
			release()
			return nil, err
		}
		if err := g.Window.Add(ctx, clock.Now()); err != nil {
			release()
			return nil, err
		}
	}

	return release, nil
}

func (g *Gate) checkCooldown(ctx context.Context) error {
	if g.Cooldown == nil {
		return nil
	}
	left, err := g.Cooldown.Remaining(ctx)
	if err != nil {
		return err
	}
	if left > 0 {
		return &CooldownError{Remaining: left}
	}
	return nil
}

func (g *Gate) waitWindow(ctx context.Context, clock Clock) error {
	for {
		now := clock.Now()
		n, oldest, err := g.Window.Stats(ctx, now.Add(-WindowSpan))
		if err != nil {
			return err
		}
		if n < g.Limit {
			return nil
		}

		wait := clampStep(WindowSpan - now.Sub(oldest))
		if g.Logger != nil {
			g.Logger.Debug("sliding window full, waiting",
				zap.Int("calls", n),
				zap.Int("limit", g.Limit),
				zap.Duration("wait", wait),
			)
		}
		if err := clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// CoolDown extends the shared cooldown.
func (g *Gate) CoolDown(ctx context.Context, d time.Duration) error {
	if g.Cooldown == nil {
		return nil
	}
	return g.Cooldown.Extend(ctx, d)
}

func (g *Gate) clock() Clock {
	if g.Clock == nil {
		return RealClock
	}
	return g.Clock
}

// Nop admits every call immediately.
type Nop struct{}

func (Nop) Acquire(context.Context) (func(), error) { return func() {}, nil }

func (Nop) CoolDown(context.Context, time.Duration) error { return nil }
