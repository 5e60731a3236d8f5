// Package processing turns RawOpportunity rows into structured Opportunity rows.
package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/dedupe"
	"github.com/oppfinder/pipeline/internal/language"
	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/model"
	"github.com/oppfinder/pipeline/internal/utils"

	"go.uber.org/zap"
)

const (
	defaultLegacyScanLimit     = 250
	defaultLocationPromptLimit = 400
	defaultMatchDelay          = 30 * time.Second
	defaultBatchSize           = 25

	dedupeLookupLimit = 10
	maxErrorMessage   = 2000
)

// ErrNotFound is returned when the requested raw opportunity does not exist.
var ErrNotFound = model.ErrNotFound

// Store is the persistence needed by the extraction service. Methods called
// inside InTx must use the transaction carried by ctx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// LockRaw loads a raw opportunity and holds a row lock until the
	// surrounding transaction ends.
	LockRaw(ctx context.Context, id int64) (*model.RawOpportunity, error)
	UpdateRaw(ctx context.Context, raw *model.RawOpportunity) error
	ExtractedRawsByHash(ctx context.Context, hash string, excludeID int64, limit int) ([]model.RawOpportunity, error)
	UnhashedExtractedRaws(ctx context.Context, excludeID int64, limit int) ([]model.RawOpportunity, error)
	SetRawHash(ctx context.Context, id int64, hash string) error
	OpportunityByRaw(ctx context.Context, rawID int64) (*model.Opportunity, error)
	SaveOpportunity(ctx context.Context, opp *model.Opportunity) error

	// MarkRawError stores msg on the row. An empty status keeps the current one.
	MarkRawError(ctx context.Context, id int64, status model.RawStatus, msg string) error
	PendingRawIDs(ctx context.Context, limit int) ([]int64, error)
	Taxonomy(ctx context.Context) (*model.Taxonomy, error)
}

// ChainSource yields the configured provider fallback chain.
type ChainSource interface {
	Chain() ([]ai.Provider, error)
}

// MatchEnqueuer schedules matching for a newly created opportunity.
type MatchEnqueuer interface {
	EnqueueMatch(ctx context.Context, opportunityID int64, delay time.Duration) error
}

type Config struct {
	Detector            language.Detector
	LegacyScanLimit     int
	LocationPromptLimit int
	MatchDelay          time.Duration
	BatchSize           int
}

func (c Config) withDefaults() Config {
	if c.LegacyScanLimit <= 0 {
		c.LegacyScanLimit = defaultLegacyScanLimit
	}
	if c.LocationPromptLimit <= 0 {
		c.LocationPromptLimit = defaultLocationPromptLimit
	}
	if c.MatchDelay <= 0 {
		c.MatchDelay = defaultMatchDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

type Service struct {
	store    Store
	chain    ChainSource
	enqueuer MatchEnqueuer
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithEnqueuer(e MatchEnqueuer) Option {
	return func(s *Service) { s.enqueuer = e }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = logger.WithFields(log) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, chain ChainSource, cfg Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		chain: chain,
		cfg:   cfg.withDefaults(),
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result describes the outcome of one extraction.
type Result struct {
	RawID         int64
	OpportunityID int64
	Created       bool
	Deduped       bool
}

// ExtractOne runs the extraction state machine for one raw opportunity under
// a row lock. Failures are recorded on the row after the transaction has been
// rolled back.
func (s *Service) ExtractOne(ctx context.Context, rawID int64, modelName string) (*Result, error) {
	log := s.log.With(logger.RawID(rawID))

	var res *Result
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		r, err := s.extractLocked(ctx, rawID, modelName, log)
		res = r
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("raw opportunity %d: %w", rawID, ErrNotFound)
		}
		s.recordFailure(ctx, rawID, err, log)
		return nil, err
	}

	log.Info("raw opportunity extracted",
		logger.OpportunityID(res.OpportunityID),
		zap.Bool("created", res.Created),
		zap.Bool("deduped", res.Deduped),
	)

	if res.Created && s.enqueuer != nil {
		if err := s.enqueuer.EnqueueMatch(ctx, res.OpportunityID, s.cfg.MatchDelay); err != nil {
			log.Warn("enqueueing matching", logger.OpportunityID(res.OpportunityID), zap.Error(err))
		}
	}
	return res, nil
}

// Summary counts the outcomes of a batch run.
type Summary struct {
	Processed int
	Created   int
	Deduped   int
	Failed    int
}

// ExtractPending processes up to limit NEW or TRANSLATED rows in id order. A
// configuration error aborts the batch since every remaining row would fail
// the same way.
func (s *Service) ExtractPending(ctx context.Context, limit int, modelName string) (Summary, error) {
	var sum Summary
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}

	ids, err := s.store.PendingRawIDs(ctx, limit)
	if err != nil {
		return sum, fmt.Errorf("listing pending raw opportunities: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := s.ExtractOne(ctx, id, modelName)
		sum.Processed++
		if err != nil {
			sum.Failed++
			if ai.IsConfiguration(err) {
				return sum, err
			}
			continue
		}
		if res.Created {
			sum.Created++
		}
		if res.Deduped {
			sum.Deduped++
		}
	}

	s.log.Info("pending extraction finished",
		zap.Int("processed", sum.Processed),
		zap.Int("created", sum.Created),
		zap.Int("deduped", sum.Deduped),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (s *Service) extractLocked(ctx context.Context, rawID int64, modelName string, log *zap.Logger) (*Result, error) {
	raw, err := s.store.LockRaw(ctx, rawID)
	if err != nil {
		return nil, err
	}

	textEN, err := s.ensureEnglish(ctx, raw, modelName, log)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(textEN) == "" {
		return nil, ai.Permanentf("", "raw opportunity %d has no usable text to extract from", raw.ID)
	}

	raw.ContentHash = dedupe.Hash(textEN)
	if err := s.store.UpdateRaw(ctx, raw); err != nil {
		return nil, fmt.Errorf("saving content hash: %w", err)
	}

	tax, err := s.store.Taxonomy(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading taxonomy: %w", err)
	}

	existing, err := s.store.OpportunityByRaw(ctx, raw.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("loading linked opportunity: %w", err)
	}

	var res *Result
	src, err := s.findDedupeSource(ctx, raw, log)
	if err != nil {
		return nil, err
	}
	if src != nil {
		res, err = s.copyFromSource(ctx, raw, existing, src, textEN, tax)
	} else {
		res, err = s.extractWithAI(ctx, raw, existing, textEN, modelName, tax, log)
	}
	if err != nil {
		return nil, err
	}

	raw.Status = model.RawExtracted
	raw.ErrorMessage = ""
	if err := s.store.UpdateRaw(ctx, raw); err != nil {
		return nil, fmt.Errorf("marking raw extracted: %w", err)
	}
	return res, nil
}

// persist applies the deterministic rules, validates and saves opp.
func (s *Service) persist(ctx context.Context, raw *model.RawOpportunity, opp *model.Opportunity, textEN string, tax *model.Taxonomy) (bool, error) {
	sourceText := raw.RawText
	if strings.TrimSpace(sourceText) == "" {
		sourceText = textEN
	}
	ApplyRules(opp, sourceText, tax, s.now())

	if err := opp.Validate(tax); err != nil {
		return false, ai.Wrap(ai.KindValidation, "", err, "opportunity failed validation")
	}

	created := opp.ID == 0
	if err := s.store.SaveOpportunity(ctx, opp); err != nil {
		return false, fmt.Errorf("saving opportunity: %w", err)
	}
	return created, nil
}

func (s *Service) recordFailure(ctx context.Context, rawID int64, cause error, log *zap.Logger) {
	status := model.RawFailed
	if ai.IsTransient(cause) || errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		// keep the row pending so the scheduler retries it
		status = ""
	}
	msg := utils.Truncate(cause.Error(), maxErrorMessage)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.store.MarkRawError(writeCtx, rawID, status, msg); err != nil {
		log.Error("recording extraction failure", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	log.Warn("extraction failed",
		zap.String("kind", ai.KindOf(cause).String()),
		zap.Bool("retryable", status == ""),
		zap.Error(cause),
	)
}

func (s *Service) orderedChain(text string) ([]ai.Provider, error) {
	chain, err := s.chain.Chain()
	if err != nil {
		return nil, err
	}
	return ai.Reorder(chain, s.cfg.Detector.IsEnglish(text)), nil
}
