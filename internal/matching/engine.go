// Package matching scores opportunities against user preferences in two
// stages: a cheap structured pre-filter, then an AI re-rank.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/model"
	"github.com/oppfinder/pipeline/internal/utils"

	"go.uber.org/zap"
)

const (
	defaultThreshold     = 7.0
	defaultMaxCandidates = 20
	defaultHoursBack     = 24 * time.Hour
	defaultBatchSize     = 10

	stage2Temperature = 0.3

	noMatchScore  = 0.0
	neutralScore  = 5.0
	noMatchReason = "Does not match user preferences"
	tooManyReason = "Matches basic preferences but too many candidates for detailed analysis"
	aiFailedLabel = "Unable to perform AI matching - "
)

// ErrOpportunityNotFound is returned when the opportunity is missing or not active.
var ErrOpportunityNotFound = errors.New("opportunity not found or not active")

// Store is the persistence used by the engine.
type Store interface {
	// ActiveOpportunity returns model.ErrNotFound when the row is missing
	// or not ACTIVE.
	ActiveOpportunity(ctx context.Context, id int64) (*model.Opportunity, error)
	// MatchableUsers lists active users with a profile snapshot, restricted
	// to ids when ids is not empty.
	MatchableUsers(ctx context.Context, ids []int64) ([]model.User, error)
	// ExistingMatch returns model.ErrNotFound when there is no match yet.
	ExistingMatch(ctx context.Context, userID, opportunityID int64) (*model.Match, error)
	// CountCandidates counts active opportunities passing f, stopping at limit.
	CountCandidates(ctx context.Context, f Filter, limit int) (int, error)
	// UpsertMatch inserts or updates the (user, opportunity) row and reports
	// whether it was inserted.
	UpsertMatch(ctx context.Context, m *model.Match) (bool, error)
	// UnmatchedOpportunityIDs lists active opportunities created since the
	// cutoff that have no match rows, newest first.
	UnmatchedOpportunityIDs(ctx context.Context, since time.Time, limit int) ([]int64, error)
	Taxonomy(ctx context.Context) (*model.Taxonomy, error)
}

// ChainSource yields the configured provider fallback chain.
type ChainSource interface {
	Chain() ([]ai.Provider, error)
}

// Notifier is told about newly created matches. Failures are only logged.
type Notifier interface {
	MatchCreated(ctx context.Context, m *model.Match) error
}

type Config struct {
	Threshold           float64
	MaxStage1Candidates int
	HoursBack           time.Duration
	BatchSize           int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.MaxStage1Candidates <= 0 {
		c.MaxStage1Candidates = defaultMaxCandidates
	}
	if c.HoursBack <= 0 {
		c.HoursBack = defaultHoursBack
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

type Engine struct {
	store    Store
	chain    ChainSource
	notifier Notifier
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = logger.WithFields(log) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store Store, chain ChainSource, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		chain: chain,
		cfg:   cfg.withDefaults(),
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome is the score computed for one user.
type Outcome struct {
	UserID        int64
	Score         float64
	Justification string
	Stage2Score   *float64
	// Existing is set when a stored match was reused.
	Existing bool
}

// Summary describes one MatchOpportunity run.
type Summary struct {
	OpportunityID int64
	TotalUsers    int
	Matched       int
	Created       int
	Failed        int
	Outcomes      []Outcome
}

// MatchOpportunity scores one active opportunity against every matchable
// user, or only userIDs when given. Matches are persisted for scores at or
// above the threshold. Per-user failures are logged and counted, except
// configuration errors which abort the run.
func (e *Engine) MatchOpportunity(ctx context.Context, opportunityID int64, userIDs []int64) (*Summary, error) {
	log := e.log.With(logger.OpportunityID(opportunityID))

	opp, err := e.store.ActiveOpportunity(ctx, opportunityID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("opportunity %d: %w", opportunityID, ErrOpportunityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load opportunity %d: %w", opportunityID, err)
	}

	users, err := e.store.MatchableUsers(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	summary := &Summary{OpportunityID: opportunityID, TotalUsers: len(users)}
	if len(users) == 0 {
		return summary, nil
	}

	tax, err := e.store.Taxonomy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}

	for _, user := range users {
		ulog := log.With(logger.UserID(user.ID))

		out, err := e.scoreUser(ctx, opp, user, tax, ulog)
		if err != nil {
			if ai.IsConfiguration(err) {
				return summary, err
			}
			summary.Failed++
			ulog.Error("matching user failed", zap.Error(err))
			continue
		}
		summary.Outcomes = append(summary.Outcomes, *out)

		if out.Score < e.threshold(user) {
			continue
		}
		summary.Matched++
		if out.Existing {
			continue
		}

		created, err := e.persist(ctx, opp, user, out, ulog)
		if err != nil {
			summary.Failed++
			ulog.Error("saving match failed", zap.Error(err))
			continue
		}
		if created {
			summary.Created++
		}
	}

	log.Info("opportunity matched",
		zap.Int("users", summary.TotalUsers),
		zap.Int("matched", summary.Matched),
		zap.Int("created", summary.Created),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (e *Engine) threshold(user model.User) float64 {
	if user.Config != nil && user.Config.ThresholdScore > 0 {
		return user.Config.ThresholdScore
	}
	return e.cfg.Threshold
}

func (e *Engine) scoreUser(ctx context.Context, opp *model.Opportunity, user model.User, tax *model.Taxonomy, log *zap.Logger) (*Outcome, error) {
	existing, err := e.store.ExistingMatch(ctx, user.ID, opp.ID)
	switch {
	case err == nil:
		return &Outcome{
			UserID:        user.ID,
			Score:         existing.Score,
			Justification: existing.Justification,
			Stage2Score:   existing.Stage2Score,
			Existing:      true,
		}, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("load existing match: %w", err)
	}

	filter := BuildFilter(user.Config, tax)
	if !filter.Matches(opp) {
		log.Debug("stage 1 rejected")
		return &Outcome{UserID: user.ID, Score: noMatchScore, Justification: noMatchReason}, nil
	}

	candidates, err := e.store.CountCandidates(ctx, filter, e.cfg.MaxStage1Candidates+1)
	if err != nil {
		return nil, fmt.Errorf("count stage 1 candidates: %w", err)
	}
	if candidates > e.cfg.MaxStage1Candidates {
		log.Debug("stage 2 skipped", zap.Int("candidates", candidates))
		return &Outcome{UserID: user.ID, Score: neutralScore, Justification: tooManyReason}, nil
	}

	return e.rerank(ctx, opp, user, log)
}

type rerankResult struct {
	score         float64
	justification string
}

// rerank asks the provider chain for a relevance score. When every provider
// fails the user gets a neutral score so the opportunity stays visible.
func (e *Engine) rerank(ctx context.Context, opp *model.Opportunity, user model.User, log *zap.Logger) (*Outcome, error) {
	chain, err := e.chain.Chain()
	if err != nil {
		return nil, err
	}

	prompt := buildMatchPrompt(opp, user)
	userID := user.ID

	res, p, err := ai.Run(ctx, chain, log, func(ctx context.Context, p ai.Provider) (*rerankResult, error) {
		out, err := p.GenerateJSON(ctx, ai.JSONRequest{
			Prompt:      prompt,
			Schema:      matchSchema,
			Temperature: ai.Temperature(stage2Temperature),
			Context:     ai.ContextMatching,
			UserID:      &userID,
		})
		if err != nil {
			return nil, err
		}
		score, err := scoreValue(out.Data["relevance_score"])
		if err != nil {
			return nil, ai.Permanentf(p.Name(), "relevance_score: %v", err)
		}
		justification, _ := out.Data["justification"].(string)
		return &rerankResult{
			score:         utils.Clamp(score, 0, 10),
			justification: utils.Truncate(justification, maxJustification),
		}, nil
	})
	if err != nil {
		if ai.IsConfiguration(err) {
			return nil, err
		}
		log.Warn("ai re-rank failed, using neutral score", zap.Error(err))
		return &Outcome{
			UserID:        user.ID,
			Score:         neutralScore,
			Justification: aiFailedLabel + err.Error(),
		}, nil
	}

	log.Debug("stage 2 scored",
		logger.Provider(p.Name()),
		zap.Float64("score", res.score),
	)
	score := res.score
	return &Outcome{
		UserID:        user.ID,
		Score:         score,
		Justification: res.justification,
		Stage2Score:   &score,
	}, nil
}

func scoreValue(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func (e *Engine) persist(ctx context.Context, opp *model.Opportunity, user model.User, out *Outcome, log *zap.Logger) (bool, error) {
	m := &model.Match{
		UserID:        user.ID,
		OpportunityID: opp.ID,
		Score:         out.Score,
		Justification: out.Justification,
		Stage1Passed:  true,
		Stage2Score:   out.Stage2Score,
		Status:        model.MatchActive,
	}
	created, err := e.store.UpsertMatch(ctx, m)
	if err != nil {
		return false, err
	}
	if created && e.notifier != nil {
		if err := e.notifier.MatchCreated(ctx, m); err != nil {
			log.Warn("match notification failed", zap.Error(err))
		}
	}
	return created, nil
}

// BatchSummary describes one MatchPending run.
type BatchSummary struct {
	Processed int
	Created   int
	Failed    int
}

// MatchPending matches recently created active opportunities that have no
// matches yet.
func (e *Engine) MatchPending(ctx context.Context) (*BatchSummary, error) {
	since := e.now().Add(-e.cfg.HoursBack)
	ids, err := e.store.UnmatchedOpportunityIDs(ctx, since, e.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("select pending opportunities: %w", err)
	}

	summary := &BatchSummary{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := e.MatchOpportunity(ctx, id, nil)
		if err != nil {
			if ai.IsConfiguration(err) {
				return summary, err
			}
			summary.Failed++
			e.log.Error("matching opportunity failed", logger.OpportunityID(id), zap.Error(err))
			continue
		}
		summary.Processed++
		summary.Created += res.Created
	}
	return summary, nil
}
