package throttle

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WindowSpan is the trailing period counted by sliding windows.
const WindowSpan = 60 * time.Second

// Window counts calls made in a trailing period across processes.
type Window interface {
	// Stats returns the number of calls since the given instant and the time of the oldest one.
	Stats(ctx context.Context, since time.Time) (int, time.Time, error)
	Add(ctx context.Context, at time.Time) error
}

// RedisWindow keeps call timestamps in a sorted set.
type RedisWindow struct {
	rdb redis.UniversalClient
	key string
}

func NewRedisWindow(rdb redis.UniversalClient, key string) *RedisWindow {
	return &RedisWindow{rdb: rdb, key: key}
}

func (w *RedisWindow) Stats(ctx context.Context, since time.Time) (int, time.Time, error) {
	cutoff := strconv.FormatInt(since.UnixMilli(), 10)
	if err := w.rdb.ZRemRangeByScore(ctx, w.key, "-inf", "("+cutoff).Err(); err != nil {
		return 0, time.Time{}, fmt.Errorf("trim window: %w", err)
	}

	oldest, err := w.rdb.ZRangeWithScores(ctx, w.key, 0, 0).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read window: %w", err)
	}
	n, err := w.rdb.ZCard(ctx, w.key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count window: %w", err)
	}

	var first time.Time
	if len(oldest) > 0 {
		first = time.UnixMilli(int64(oldest[0].Score))
	}
	return int(n), first, nil
}

func (w *RedisWindow) Add(ctx context.Context, at time.Time) error {
	pipe := w.rdb.TxPipeline()
	pipe.ZAdd(ctx, w.key, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
	pipe.PExpire(ctx, w.key, 2*WindowSpan)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record window call: %w", err)
	}
	return nil
}

// MemoryWindow is a single-process Window.
type MemoryWindow struct {
	mu    sync.Mutex
	calls []time.Time
}

func NewMemoryWindow() *MemoryWindow { return &MemoryWindow{} }

func (w *MemoryWindow) Stats(_ context.Context, since time.Time) (int, time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.calls[:0]
	for _, c := range w.calls {
		if !c.Before(since) {
			kept = append(kept, c)
		}
	}
	w.calls = kept

	if len(w.calls) == 0 {
		return 0, time.Time{}, nil
	}
	return len(w.calls), w.calls[0], nil
}

func (w *MemoryWindow) Add(_ context.Context, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, at)
	return nil
}
