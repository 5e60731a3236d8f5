// Package scheduler runs the periodic pipeline jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oppfinder/pipeline/internal/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one periodic unit of work.
type Job struct {
	Name string
	// Spec is a cron expression or descriptor such as "@every 5m".
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler wraps robfig/cron. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]Job
	log  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

func New(log *zap.Logger) *Scheduler {
	log = logger.WithFields(log)
	cl := cronLogger{log: log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs: make(map[string]Job),
		log:  log,
	}
}

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Spec, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// Start schedules every registered job. Jobs receive a context that is
// cancelled by Stop or when ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for name, job := range s.jobs {
		if _, err := s.cron.AddFunc(job.Spec, func() { s.run(runCtx, job) }); err != nil {
			cancel()
			return fmt.Errorf("cron.AddFunc %s: %w", name, err)
		}
		s.log.Info("job scheduled", zap.String("job", name), zap.String("spec", job.Spec))
	}
	s.cancel = cancel
	s.started = true
	s.cron.Start()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info("scheduler stopped")
}

// RunNow runs a registered job once in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return job.Run(ctx)
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	log := s.log.With(zap.String("job", job.Name))
	if err := job.Run(ctx); err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	log.Debug("job finished", zap.Duration("took", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
