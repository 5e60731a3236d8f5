package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/model"
	"github.com/oppfinder/pipeline/internal/utils"

	"go.uber.org/zap"
)

const maxSourceError = 1000

// SourceStore is the persistence used by the runner.
type SourceStore interface {
	RawStore
	EnabledSources(ctx context.Context, typ model.SourceType) ([]model.Source, error)
	SourceByID(ctx context.Context, id int64) (*model.Source, error)
	// RecordSourceRun updates the health counters of a source.
	RecordSourceRun(ctx context.Context, id int64, success bool, errMsg string, at time.Time) error
}

// ExtractEnqueuer schedules extraction of freshly stored raw opportunities.
type ExtractEnqueuer interface {
	EnqueueExtract(ctx context.Context, rawID int64) error
}

// RunResult is the outcome of polling one source.
type RunResult struct {
	SourceID int64
	Fetched  int
	WriteResult
	Err error
}

type Runner struct {
	store    SourceStore
	registry *Registry
	enqueuer ExtractEnqueuer
	limit    int
	log      *zap.Logger
	now      func() time.Time
}

type RunnerOption func(*Runner)

func WithExtractEnqueuer(e ExtractEnqueuer) RunnerOption {
	return func(r *Runner) { r.enqueuer = e }
}

func WithLimit(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.limit = n
		}
	}
}

func WithLogger(log *zap.Logger) RunnerOption {
	return func(r *Runner) { r.log = logger.WithFields(log) }
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(store SourceStore, registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		registry: registry,
		limit:    defaultLimit,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunSource fetches new items from src, stores them and records the run on
// the source. The returned error is the fetch or write failure, if any.
func (r *Runner) RunSource(ctx context.Context, src model.Source) (RunResult, error) {
	log := r.log.With(zap.String(logger.FieldSource, src.Name), zap.Int64("source_id", src.ID))
	res := RunResult{SourceID: src.ID}

	res.Err = r.fetchAndWrite(ctx, src, &res)
	if res.Err != nil && errors.Is(res.Err, context.Canceled) {
		return res, res.Err
	}

	msg := ""
	if res.Err != nil {
		msg = utils.Truncate(res.Err.Error(), maxSourceError)
		log.Warn("source run failed", zap.Error(res.Err))
	} else {
		log.Info("source run finished",
			zap.Int("fetched", res.Fetched),
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated))
	}
	if err := r.store.RecordSourceRun(ctx, src.ID, res.Err == nil, msg, r.now().UTC()); err != nil {
		log.Warn("failed to record source run", zap.Error(err))
	}

	if r.enqueuer != nil {
		for _, id := range res.CreatedIDs {
			if err := r.enqueuer.EnqueueExtract(ctx, id); err != nil {
				log.Warn("failed to enqueue extraction", logger.RawID(id), zap.Error(err))
			}
		}
	}
	return res, res.Err
}

func (r *Runner) fetchAndWrite(ctx context.Context, src model.Source, res *RunResult) error {
	adapter, err := r.registry.Adapter(src.Type)
	if err != nil {
		return err
	}
	items, err := adapter.FetchNew(ctx, src, src.LastSuccessAt, r.limit)
	if err != nil {
		return err
	}
	res.Fetched = len(items)
	written, err := Write(ctx, r.store, src, items)
	if err != nil {
		return err
	}
	res.WriteResult = written
	return nil
}

// RunSourceID loads a source by id and runs it.
func (r *Runner) RunSourceID(ctx context.Context, id int64) (RunResult, error) {
	src, err := r.store.SourceByID(ctx, id)
	if err != nil {
		return RunResult{SourceID: id}, fmt.Errorf("load source %d: %w", id, err)
	}
	if !src.Enabled {
		return RunResult{SourceID: id}, fmt.Errorf("source %d is disabled", id)
	}
	return r.RunSource(ctx, *src)
}

// RunAll polls every enabled source of typ, or of every type when typ is
// empty. One failing source does not stop the others.
func (r *Runner) RunAll(ctx context.Context, typ model.SourceType) ([]RunResult, error) {
	sources, err := r.store.EnabledSources(ctx, typ)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return r.runEach(ctx, sources)
}

// DueSources lists enabled sources whose poll interval has elapsed.
func (r *Runner) DueSources(ctx context.Context) ([]model.Source, error) {
	sources, err := r.store.EnabledSources(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	now := r.now()
	due := sources[:0]
	for _, src := range sources {
		if src.Due(now) {
			due = append(due, src)
		}
	}
	return due, nil
}

// RunDue polls the sources returned by DueSources.
func (r *Runner) RunDue(ctx context.Context) ([]RunResult, error) {
	due, err := r.DueSources(ctx)
	if err != nil {
		return nil, err
	}
	return r.runEach(ctx, due)
}

func (r *Runner) runEach(ctx context.Context, sources []model.Source) ([]RunResult, error) {
	results := make([]RunResult, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.RunSource(ctx, src)
		results = append(results, res)
		if err != nil && errors.Is(err, context.Canceled) {
			return results, err
		}
	}
	return results, nil
}
