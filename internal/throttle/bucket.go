// Package throttle holds the process-scoped and cluster-wide rate limiting
// primitives used by quota-sensitive AI providers.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/oppfinder/pipeline/internal/utils"
)

const (
	minStep = 50 * time.Millisecond
	maxStep = 2 * time.Second
)

// Clock abstracts time so tests can advance it deterministically.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error { return utils.WaitFor(ctx, d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// TokenBucket is a local limiter refilled continuously at rpm/60 tokens per second.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	clock    Clock
}

// NewTokenBucket creates a full bucket for the given requests-per-minute limit.
func NewTokenBucket(rpm int, clock Clock) *TokenBucket {
	if rpm <= 0 {
		rpm = 1
	}
	if clock == nil {
		clock = RealClock
	}
	capacity := float64(rpm)
	return &TokenBucket{
		rate:     float64(rpm) / 60.0,
		capacity: capacity,
		tokens:   capacity,
		last:     clock.Now(),
		clock:    clock,
	}
}

// Wait blocks until a token is available and spends it.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := b.take()
		if ok {
			return nil
		}
		if err := b.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (b *TokenBucket) take() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	needed := (1 - b.tokens) / b.rate
	return clampStep(time.Duration(needed * float64(time.Second))), false
}

func clampStep(d time.Duration) time.Duration {
	if d < minStep {
		return minStep
	}
	if d > maxStep {
		return maxStep
	}
	return d
}
