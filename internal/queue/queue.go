// Package queue is a delayed task queue for the ingestion, extraction and
// matching units of work.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/oppfinder/pipeline/internal/logger"

	"go.uber.org/zap"
)

// Kind names a unit of work.
type Kind string

const (
	KindExtract Kind = "extract"
	KindMatch   Kind = "match"
	KindIngest  Kind = "ingest"
)

// Task is one scheduled unit of work. SubjectID is the raw opportunity,
// opportunity or source id, depending on Kind.
type Task struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	SubjectID  int64     `json:"subject_id"`
	Attempt    int       `json:"attempt"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskID is deterministic so that a subject has at most one pending task of
// each kind.
func TaskID(kind Kind, subjectID int64) string {
	return fmt.Sprintf("%s:%d", kind, subjectID)
}

// Backend stores scheduled tasks.
type Backend interface {
	// Add schedules t at the given time unless a task with the same id is
	// already pending. It reports whether t was added.
	Add(ctx context.Context, t Task, at time.Time) (bool, error)
	// Claim returns up to n tasks due at now and hides them until
	// now+lease, after which an unacknowledged task becomes due again.
	Claim(ctx context.Context, now time.Time, n int, lease time.Duration) ([]Task, error)
	// Retry stores the updated t and schedules it at the given time.
	Retry(ctx context.Context, t Task, at time.Time) error
	Ack(ctx context.Context, id string) error
	// Bury removes t from the schedule and appends it to the dead-letter list.
	Bury(ctx context.Context, t Task) error
	Stats(ctx context.Context) (Stats, error)
	DeadLetters(ctx context.Context, n int) ([]Task, error)
}

type Stats struct {
	Pending int64
	Dead    int64
}

// Queue is the producer side.
type Queue struct {
	backend Backend
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Queue)

func WithLogger(log *zap.Logger) Option {
	return func(q *Queue) { q.log = logger.WithFields(log) }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(backend Backend, opts ...Option) *Queue {
	q := &Queue{backend: backend, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules kind for subjectID after delay. Scheduling a task that
// is already pending is a no-op and reports false.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, subjectID int64, delay time.Duration) (bool, error) {
	now := q.now()
	t := Task{ID: TaskID(kind, subjectID), Kind: kind, SubjectID: subjectID, EnqueuedAt: now.UTC()}
	added, err := q.backend.Add(ctx, t, now.Add(delay))
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", t.ID, err)
	}
	if added {
		q.log.Debug("task enqueued", zap.String("task", t.ID), zap.Duration("delay", delay))
	}
	return added, nil
}

func (q *Queue) EnqueueExtract(ctx context.Context, rawID int64) error {
	_, err := q.Enqueue(ctx, KindExtract, rawID, 0)
	return err
}

func (q *Queue) EnqueueMatch(ctx context.Context, opportunityID int64, delay time.Duration) error {
	_, err := q.Enqueue(ctx, KindMatch, opportunityID, delay)
	return err
}

func (q *Queue) EnqueueIngest(ctx context.Context, sourceID int64) error {
	_, err := q.Enqueue(ctx, KindIngest, sourceID, 0)
	return err
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.backend.Stats(ctx)
}

func (q *Queue) DeadLetters(ctx context.Context, n int) ([]Task, error) {
	return q.backend.DeadLetters(ctx, n)
}
