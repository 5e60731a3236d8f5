package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/model"
	"github.com/oppfinder/pipeline/internal/utils"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 10
	defaultMaxAttempts  = 5
	defaultLease        = 10 * time.Minute

	maxBackoff      = 5 * time.Minute
	maxTaskErrorLen = 1000
)

// Handler runs one task. Returning nil acknowledges it.
type Handler func(ctx context.Context, t Task) error

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Lease        time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Lease <= 0 {
		c.Lease = defaultLease
	}
	return c
}

// Backoff is the delay before retry number attempt: 2^attempt seconds,
// capped at five minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 9 {
		return maxBackoff
	}
	return min(time.Duration(1<<attempt)*time.Second, maxBackoff)
}

// terminal errors are not retried.
func terminal(err error) bool {
	switch ai.KindOf(err) {
	case ai.KindConfiguration, ai.KindPermanent, ai.KindValidation:
		return true
	}
	return errors.Is(err, model.ErrNotFound)
}

// Worker claims due tasks and dispatches them by kind.
type Worker struct {
	backend  Backend
	handlers map[Kind]Handler
	cfg      WorkerConfig
	log      *zap.Logger
	now      func() time.Time
}

type WorkerOption func(*Worker)

func WithWorkerLogger(log *zap.Logger) WorkerOption {
	return func(w *Worker) { w.log = logger.WithFields(log) }
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(backend Backend, handlers map[Kind]Handler, cfg WorkerConfig, opts ...WorkerOption) *Worker {
	w := &Worker{
		backend:  backend,
		handlers: handlers,
		cfg:      cfg.withDefaults(),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("max_attempts", w.cfg.MaxAttempts))
	for {
		n, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Warn("worker poll failed", zap.Error(err))
		}
		if n > 0 {
			continue
		}
		if err := utils.WaitFor(ctx, w.cfg.PollInterval); err != nil {
			break
		}
	}
	w.log.Info("worker stopped")
	return nil
}

// RunOnce claims one batch of due tasks and handles it. It returns the
// number of tasks claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.backend.Claim(ctx, w.now(), w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		if ctx.Err() != nil {
			return len(tasks), ctx.Err()
		}
		if err := w.handle(ctx, t); err != nil {
			return len(tasks), err
		}
	}
	return len(tasks), nil
}

func (w *Worker) handle(ctx context.Context, t Task) error {
	log := w.log.With(zap.String("task", t.ID), zap.Int("attempt", t.Attempt+1))

	h, ok := w.handlers[t.Kind]
	if !ok {
		t.LastError = fmt.Sprintf("no handler for task kind %q", t.Kind)
		log.Error("dead-lettering task", zap.String("reason", t.LastError))
		return w.backend.Bury(ctx, t)
	}

	runErr := h(ctx, t)
	if runErr == nil {
		log.Debug("task done")
		return w.backend.Ack(ctx, t.ID)
	}
	if ctx.Err() != nil {
		// the lease brings the task back after shutdown
		return ctx.Err()
	}

	t.Attempt++
	t.LastError = utils.Truncate(runErr.Error(), maxTaskErrorLen)
	if terminal(runErr) || t.Attempt >= w.cfg.MaxAttempts {
		log.Error("dead-lettering task", zap.Error(runErr))
		return w.backend.Bury(ctx, t)
	}

	delay := Backoff(t.Attempt)
	log.Warn("task failed, retrying", zap.Error(runErr), zap.Duration("backoff", delay))
	return w.backend.Retry(ctx, t, w.now().Add(delay))
}
