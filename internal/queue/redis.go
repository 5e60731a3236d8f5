package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "oppfinder:queue"

var addScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[2], ARGV[1], ARGV[3]) == 1 then
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

var claimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
	local body = redis.call("HGET", KEYS[2], id)
	if body then
		redis.call("ZADD", KEYS[1], ARGV[3], id)
		table.insert(out, body)
	else
		redis.call("ZREM", KEYS[1], id)
	end
end
return out
`)

// RedisBackend keeps due times in a sorted set, task bodies in a hash and
// dead letters in a list, all under one key prefix.
type RedisBackend struct {
	rdb      redis.UniversalClient
	schedule string
	tasks    string
	dead     string
}

func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisBackend{
		rdb:      rdb,
		schedule: prefix + ":schedule",
		tasks:    prefix + ":tasks",
		dead:     prefix + ":dead",
	}
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (b *RedisBackend) Add(ctx context.Context, t Task, at time.Time) (bool, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("encode task: %w", err)
	}
	n, err := addScript.Run(ctx, b.rdb, []string{b.schedule, b.tasks}, t.ID, score(at), body).Int()
	if err != nil {
		return false, fmt.Errorf("add task: %w", err)
	}
	return n == 1, nil
}

func (b *RedisBackend) Claim(ctx context.Context, now time.Time, n int, lease time.Duration) ([]Task, error) {
	bodies, err := claimScript.Run(ctx, b.rdb, []string{b.schedule, b.tasks},
		score(now), n, score(now.Add(lease))).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	tasks := make([]Task, 0, len(bodies))
	for _, body := range bodies {
		var t Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (b *RedisBackend) Retry(ctx context.Context, t Task, at time.Time) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.tasks, t.ID, body)
	pipe.ZAdd(ctx, b.schedule, redis.Z{Score: float64(at.UnixMilli()), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry task %s: %w", t.ID, err)
	}
	return nil
}

func (b *RedisBackend) Ack(ctx context.Context, id string) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, b.schedule, id)
	pipe.HDel(ctx, b.tasks, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack task %s: %w", id, err)
	}
	return nil
}

func (b *RedisBackend) Bury(ctx context.Context, t Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, b.schedule, t.ID)
	pipe.HDel(ctx, b.tasks, t.ID)
	pipe.LPush(ctx, b.dead, body)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bury task %s: %w", t.ID, err)
	}
	return nil
}

func (b *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	pipe := b.rdb.Pipeline()
	pending := pipe.ZCard(ctx, b.schedule)
	dead := pipe.LLen(ctx, b.dead)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Dead: dead.Val()}, nil
}

// DeadLetters returns the n most recently buried tasks.
func (b *RedisBackend) DeadLetters(ctx context.Context, n int) ([]Task, error) {
	if n <= 0 {
		return nil, nil
	}
	bodies, err := b.rdb.LRange(ctx, b.dead, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	tasks := make([]Task, 0, len(bodies))
	for _, body := range bodies {
		var t Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
