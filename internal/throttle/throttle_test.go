package throttle

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.advance(d)
	c.mu.Lock()
	c.slept += d
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

func TestTokenBucketNeverWaitsBelowRate(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(60, clock)

	for i := 0; i < 200; i++ {
		if err := bucket.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		clock.advance(1100 * time.Millisecond)
	}

	if clock.total() != 0 {
		t.Fatalf("expected no waiting, slept %v", clock.total())
	}
}

func TestTokenBucketWaitsProportionallyToDeficit(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(60, clock)

	// the full bucket absorbs the first 60 calls
	for i := 0; i < 60; i++ {
		if err := bucket.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if clock.total() != 0 {
		t.Fatalf("expected burst within capacity to pass, slept %v", clock.total())
	}

	for i := 0; i < 5; i++ {
		if err := bucket.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got := clock.total()
	if got < 4900*time.Millisecond || got > 5100*time.Millisecond {
		t.Fatalf("expected about 5s of waiting for a 5 token deficit, got %v", got)
	}
}

func TestTokenBucketStepIsBounded(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(1, clock)

	if err := bucket.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wait, ok := bucket.take()
	if ok {
		t.Fatalf("expected empty bucket")
	}
	if wait != maxStep {
		t.Fatalf("expected step capped at %v, got %v", maxStep, wait)
	}
}

func TestTokenBucketHonoursContext(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(1, clock)
	_ = bucket.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bucket.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGateSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	window := NewMemoryWindow()
	gate := &Gate{Window: window, Limit: 2, Clock: clock}

	for i := 0; i < 2; i++ {
		release, err := gate.Acquire(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		release()
		clock.advance(time.Second)
	}
	if clock.total() != 0 {
		t.Fatalf("expected no waiting under the limit, slept %v", clock.total())
	}

	release, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release()

	// first call happened 2s before the third attempt, so the window frees up 58s later
	got := clock.total()
	if got < 58*time.Second || got > 58*time.Second+maxStep {
		t.Fatalf("expected roughly 58s wait, got %v", got)
	}
}

func TestGateCooldownRejects(t *testing.T) {
	clock := newFakeClock()
	gate := &Gate{Cooldown: NewMemoryCooldown(clock), Clock: clock}

	if err := gate.CoolDown(context.Background(), 30*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := gate.Acquire(context.Background())
	var cooling *CooldownError
	if !errors.As(err, &cooling) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if cooling.Remaining != 30*time.Second {
		t.Fatalf("unexpected remaining %v", cooling.Remaining)
	}

	// a shorter hint never shortens an active cooldown
	_ = gate.CoolDown(context.Background(), time.Second)
	clock.advance(10 * time.Second)
	_, err = gate.Acquire(context.Background())
	if !errors.As(err, &cooling) || cooling.Remaining != 20*time.Second {
		t.Fatalf("expected 20s remaining, got %v", err)
	}

	clock.advance(21 * time.Second)
	release, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected cooldown to expire, got %v", err)
	}
	release()
}

func TestMemoryLockExclusive(t *testing.T) {
	lock := NewMemoryLock()

	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := lock.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second acquire to block, got %v", err)
	}

	release()
	release()

	again, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected lock to be free after release, got %v", err)
	}
	again()
}

func TestGateRechecksCooldownAfterLock(t *testing.T) {
	clock := newFakeClock()
	lock := NewMemoryLock()
	gate := &Gate{Lock: lock, Cooldown: NewMemoryCooldown(clock), Clock: clock}

	releaseA, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		release, err := gate.Acquire(context.Background())
		if err == nil {
			release()
		}
		result <- err
	}()

	// let the second caller pass the first cooldown check and queue on the lock
	time.Sleep(20 * time.Millisecond)
	if err := gate.CoolDown(context.Background(), time.Minute); err != nil {
		t.Fatalf("cooldown: %v", err)
	}
	releaseA()

	var cooling *CooldownError
	if err := <-result; !errors.As(err, &cooling) {
		t.Fatalf("expected CooldownError for the queued caller, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("expected lock released after cooldown rejection, got %v", err)
	}
	release()
}

func TestMemoryLockConcurrentRelease(t *testing.T) {
	lock := NewMemoryLock()
	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release()
		}()
	}
	wg.Wait()

	again, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected lock to be free, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := lock.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("extra releases must not free the lock twice, got %v", err)
	}
	again()
}

func TestGateReleasesLockWhenWindowFails(t *testing.T) {
	lock := NewMemoryLock()
	gate := &Gate{Lock: lock, Window: brokenWindow{}, Limit: 1, Clock: newFakeClock()}

	if _, err := gate.Acquire(context.Background()); err == nil {
		t.Fatalf("expected window error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("expected lock released after failure, got %v", err)
	}
	release()
}

type brokenWindow struct{}

func (brokenWindow) Stats(context.Context, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("redis unavailable")
}

func (brokenWindow) Add(context.Context, time.Time) error { return nil }

func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("OPPFINDER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OPPFINDER_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisPrimitives(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	prefix := "oppfinder:test:" + t.Name()
	t.Cleanup(func() {
		rdb.Del(context.Background(), prefix+":window", prefix+":lock", prefix+":cooldown")
	})

	window := NewRedisWindow(rdb, prefix+":window")
	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := window.Add(ctx, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	n, oldest, err := window.Stats(ctx, now.Add(-time.Second))
	if err != nil || n != 3 || oldest.UnixMilli() != now.UnixMilli() {
		t.Fatalf("unexpected stats n=%d oldest=%v err=%v", n, oldest, err)
	}

	lock := NewRedisLock(rdb, prefix+":lock", time.Minute)
	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	blocked, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if _, err := lock.Acquire(blocked); err == nil {
		t.Fatalf("expected second acquire to time out")
	}
	release()

	cooldown := NewRedisCooldown(rdb, prefix+":cooldown")
	if err := cooldown.Extend(ctx, 5*time.Second); err != nil {
		t.Fatalf("extend: %v", err)
	}
	left, err := cooldown.Remaining(ctx)
	if err != nil || left <= 0 || left > 5*time.Second {
		t.Fatalf("unexpected remaining %v err=%v", left, err)
	}

	if err := cooldown.Extend(ctx, time.Second); err != nil {
		t.Fatalf("extend: %v", err)
	}
	left, err = cooldown.Remaining(ctx)
	if err != nil || left <= time.Second {
		t.Fatalf("a shorter hint must not shorten the cooldown, got %v err=%v", left, err)
	}
}
