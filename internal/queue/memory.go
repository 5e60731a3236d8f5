package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is a single-process Backend.
type MemoryBackend struct {
	mu    sync.Mutex
	tasks map[string]Task
	due   map[string]time.Time
	dead  []Task
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tasks: map[string]Task{}, due: map[string]time.Time{}}
}

func (b *MemoryBackend) Add(_ context.Context, t Task, at time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tasks[t.ID]; ok {
		return false, nil
	}
	b.tasks[t.ID] = t
	b.due[t.ID] = at
	return true, nil
}

func (b *MemoryBackend) Claim(_ context.Context, now time.Time, n int, lease time.Duration) ([]Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.due))
	for id, at := range b.due {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if b.due[ids[i]].Equal(b.due[ids[j]]) {
			return ids[i] < ids[j]
		}
		return b.due[ids[i]].Before(b.due[ids[j]])
	})
	if len(ids) > n {
		ids = ids[:n]
	}

	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		b.due[id] = now.Add(lease)
		out = append(out, b.tasks[id])
	}
	return out, nil
}

func (b *MemoryBackend) Retry(_ context.Context, t Task, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[t.ID] = t
	b.due[t.ID] = at
	return nil
}

func (b *MemoryBackend) Ack(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, id)
	delete(b.due, id)
	return nil
}

func (b *MemoryBackend) Bury(_ context.Context, t Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, t.ID)
	delete(b.due, t.ID)
	b.dead = append([]Task{t}, b.dead...)
	return nil
}

func (b *MemoryBackend) Stats(context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Pending: int64(len(b.due)), Dead: int64(len(b.dead))}, nil
}

func (b *MemoryBackend) DeadLetters(_ context.Context, n int) ([]Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		return nil, nil
	}
	if n > len(b.dead) {
		n = len(b.dead)
	}
	return append([]Task(nil), b.dead[:n]...), nil
}

// DueAt reports when id is next due.
func (b *MemoryBackend) DueAt(id string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	at, ok := b.due[id]
	return at, ok
}
