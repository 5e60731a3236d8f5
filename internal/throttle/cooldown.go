package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown is a shared "do not call before" marker.
type Cooldown interface {
	Remaining(ctx context.Context) (time.Duration, error)
	// Extend pushes the cooldown out to at least d from now.
	Extend(ctx context.Context, d time.Duration) error
}

// RedisCooldown stores the cooldown as a key with a TTL.
type RedisCooldown struct {
	rdb redis.UniversalClient
	key string
}

func NewRedisCooldown(rdb redis.UniversalClient, key string) *RedisCooldown {
	return &RedisCooldown{rdb: rdb, key: key}
}

func (c *RedisCooldown) Remaining(ctx context.Context) (time.Duration, error) {
	ttl, err := c.rdb.PTTL(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("read cooldown: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (c *RedisCooldown) Extend(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := extendScript.Run(ctx, c.rdb, []string{c.key}, d.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	return nil
}

// extendScript only ever lengthens the TTL.
var extendScript = redis.NewScript(`
local ttl = redis.call("PTTL", KEYS[1])
if ttl >= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], "1", "PX", ARGV[1])
return 1
`)

// MemoryCooldown is a single-process Cooldown.
type MemoryCooldown struct {
	mu    sync.Mutex
	until time.Time
	clock Clock
}

func NewMemoryCooldown(clock Clock) *MemoryCooldown {
	if clock == nil {
		clock = RealClock
	}
	return &MemoryCooldown{clock: clock}
}

func (c *MemoryCooldown) Remaining(context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if left := c.until.Sub(c.clock.Now()); left > 0 {
		return left, nil
	}
	return 0, nil
}

func (c *MemoryCooldown) Extend(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := c.clock.Now().Add(d); until.After(c.until) {
		c.until = until
	}
	return nil
}
