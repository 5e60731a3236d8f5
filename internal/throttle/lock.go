package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock provides mutual exclusion around an outbound call.
type Lock interface {
	Acquire(ctx context.Context) (release func(), err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a lease held under a random owner token. The TTL bounds how long
// a crashed holder can block others.
type RedisLock struct {
	rdb   redis.UniversalClient
	key   string
	ttl   time.Duration
	poll  time.Duration
	clock Clock
}

func NewRedisLock(rdb redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLock{rdb: rdb, key: key, ttl: ttl, poll: minStep, clock: RealClock}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
		}
		if ok {
			break
		}
		if err := l.clock.Sleep(ctx, l.poll); err != nil {
			return nil, err
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// an expired lease is not an error worth surfacing
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
	}, nil
}

// MemoryLock serializes callers within one process.
type MemoryLock struct {
	ch chan struct{}
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{ch: make(chan struct{}, 1)}
}

func (l *MemoryLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-l.ch })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
