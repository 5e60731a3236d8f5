package matching

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	opps    map[int64]*model.Opportunity
	users   []model.User
	matches map[[2]int64]*model.Match
	tax     *model.Taxonomy
	nextID  int64

	upserts int
}

func newFakeStore(opps ...*model.Opportunity) *fakeStore {
	s := &fakeStore{
		opps:    map[int64]*model.Opportunity{},
		matches: map[[2]int64]*model.Match{},
		tax:     model.NewTaxonomy(nil, nil, nil, nil),
	}
	for _, o := range opps {
		s.opps[o.ID] = o
	}
	return s
}

func (s *fakeStore) ActiveOpportunity(_ context.Context, id int64) (*model.Opportunity, error) {
	o, ok := s.opps[id]
	if !ok || o.Status != model.OpportunityActive {
		return nil, model.ErrNotFound
	}
	return o, nil
}

func (s *fakeStore) MatchableUsers(_ context.Context, ids []int64) ([]model.User, error) {
	var out []model.User
	for _, u := range s.users {
		if len(ids) > 0 && !containsID(ids, u.ID) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *fakeStore) ExistingMatch(_ context.Context, userID, oppID int64) (*model.Match, error) {
	m, ok := s.matches[[2]int64{userID, oppID}]
	if !ok {
		return nil, model.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) CountCandidates(_ context.Context, f Filter, limit int) (int, error) {
	n := 0
	for _, o := range s.opps {
		if f.Matches(o) {
			n++
		}
		if n == limit {
			break
		}
	}
	return n, nil
}

func (s *fakeStore) UpsertMatch(_ context.Context, m *model.Match) (bool, error) {
	s.upserts++
	key := [2]int64{m.UserID, m.OpportunityID}
	_, exists := s.matches[key]
	if !exists {
		s.nextID++
		m.ID = s.nextID
	}
	c := *m
	s.matches[key] = &c
	return !exists, nil
}

func (s *fakeStore) UnmatchedOpportunityIDs(_ context.Context, since time.Time, limit int) ([]int64, error) {
	var ids []int64
	for id, o := range s.opps {
		if o.Status != model.OpportunityActive || o.CreatedAt.Before(since) {
			continue
		}
		matched := false
		for key := range s.matches {
			if key[1] == id {
				matched = true
			}
		}
		if !matched {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *fakeStore) Taxonomy(context.Context) (*model.Taxonomy, error) { return s.tax, nil }

type scoringProvider struct {
	name  string
	score any
	err   error
	calls int
}

func (p *scoringProvider) Name() string { return p.name }

func (p *scoringProvider) GenerateText(context.Context, ai.TextRequest) (*ai.TextResult, error) {
	return nil, ai.Permanentf(p.name, "unsupported")
}

func (p *scoringProvider) GenerateJSON(_ context.Context, req ai.JSONRequest) (*ai.JSONResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &ai.JSONResult{
		Data:  map[string]any{"relevance_score": p.score, "justification": "fits the profile"},
		Model: "test-model",
	}, nil
}

func (p *scoringProvider) TranslateToEnglish(context.Context, ai.TranslateRequest) (*ai.TextResult, error) {
	return nil, ai.Permanentf(p.name, "unsupported")
}

type chain struct {
	providers []ai.Provider
	err       error
}

func (c chain) Chain() ([]ai.Provider, error) { return c.providers, c.err }

type recordingNotifier struct{ ids []int64 }

func (n *recordingNotifier) MatchCreated(_ context.Context, m *model.Match) error {
	n.ids = append(n.ids, m.ID)
	return nil
}

func intPtr(v int) *int { return &v }

func activeOpportunity(id int64) *model.Opportunity {
	return &model.Opportunity{
		ID:               id,
		Title:            "Backend Engineer",
		TypeID:           1,
		DomainID:         10,
		SpecializationID: 100,
		WorkMode:         model.WorkModeOnsite,
		EmploymentType:   model.EmploymentFullTime,
		ExperienceLevel:  model.ExperienceMid,
		Status:           model.OpportunityActive,
		CreatedAt:        time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func profileUser(id int64, cfg *model.MatchConfig) model.User {
	return model.User{ID: id, Active: true, ProfileText: "Go developer, 4 years", Config: cfg}
}

func TestMatchOpportunityCreatesMatchAndNotifies(t *testing.T) {
	store := newFakeStore(activeOpportunity(1))
	store.users = []model.User{profileUser(7, &model.MatchConfig{})}
	provider := &scoringProvider{name: "stub", score: 8.5}
	notifier := &recordingNotifier{}

	engine := New(store, chain{providers: []ai.Provider{provider}}, Config{}, WithNotifier(notifier))
	res, err := engine.MatchOpportunity(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Matched)
	m := store.matches[[2]int64{7, 1}]
	require.NotNil(t, m)
	assert.Equal(t, 8.5, m.Score)
	require.NotNil(t, m.Stage2Score)
	assert.Equal(t, 8.5, *m.Stage2Score)
	assert.True(t, m.Stage1Passed)
	assert.Equal(t, model.MatchActive, m.Status)
	assert.Equal(t, []int64{m.ID}, notifier.ids)
}

func TestMatchOpportunityIsIdempotent(t *testing.T) {
	store := newFakeStore(activeOpportunity(1))
	store.users = []model.User{profileUser(7, nil)}
	provider := &scoringProvider{name: "stub", score: 9.0}
	engine := New(store, chain{providers: []ai.Provider{provider}}, Config{})

	_, err := engine.MatchOpportunity(context.Background(), 1, nil)
	require.NoError(t, err)
	res, err := engine.MatchOpportunity(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls, "second run must reuse the stored match")
	assert.Equal(t, 1, store.upserts)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Matched)
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Existing)
	assert.Len(t, store.matches, 1)
}

func TestMatchOpportunityStage1Rejections(t *testing.T) {
	opp := activeOpportunity(1)
	opp.MaxCompensation = intPtr(1000)

	tests := map[string]*model.MatchConfig{
		"muted type":        {MutedTypes: []int64{1}},
		"compensation":      {MinCompensation: intPtr(2000), MaxCompensation: intPtr(5000)},
		"other domain":      {Domains: []int64{11}},
		"remote only":       {WorkMode: model.WorkModeRemote},
		"location required": {Locations: []int64{5}},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore(opp)
			store.users = []model.User{profileUser(7, cfg)}
			provider := &scoringProvider{name: "stub", score: 10}

			res, err := New(store, chain{providers: []ai.Provider{provider}}, Config{}).MatchOpportunity(context.Background(), 1, nil)
			require.NoError(t, err)

			assert.Zero(t, provider.calls)
			assert.Empty(t, store.matches)
			require.Len(t, res.Outcomes, 1)
			assert.Equal(t, 0.0, res.Outcomes[0].Score)
			assert.Equal(t, noMatchReason, res.Outcomes[0].Justification)
		})
	}
}

func TestMatchOpportunityNeutralScoreWhenChainFails(t *testing.T) {
	store := newFakeStore(activeOpportunity(1))
	store.users = []model.User{profileUser(7, nil)}
	provider := &scoringProvider{name: "stub", err: ai.Transientf("stub", "upstream 503")}

	res, err := New(store, chain{providers: []ai.Provider{provider}}, Config{Threshold: 5}).MatchOpportunity(context.Background(), 1, nil)
	require.NoError(t, err)

	m := store.matches[[2]int64{7, 1}]
	require.NotNil(t, m)
	assert.Equal(t, 5.0, m.Score)
	assert.Nil(t, m.Stage2Score)
	assert.Contains(t, m.Justification, "Unable to perform AI matching - ")
	assert.Contains(t, m.Justification, "upstream 503")
	assert.Equal(t, 1, res.Created)
}

func TestMatchOpportunityBelowThresholdLeavesNoRow(t *testing.T) {
	store := newFakeStore(activeOpportunity(1))
	store.users = []model.User{profileUser(7, nil)}
	provider := &scoringProvider{name: "stub", score: 6.9}

	res, err := New(store, chain{providers: []ai.Provider{provider}}, Config{}).MatchOpportunity(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, store.matches)
	assert.Zero(t, res.Matched)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, 6.9, res.Outcomes[0].Score)
}

func TestMatchOpportunityClampsScore(t *testing.T) {
	store := newFakeStore(activeOpportunity(1))
	store.users = []model.User{profileUser(7, nil)}
	provider := &scoringProvider{name: "stub", score: 14.0}

	_, err := New(store, chain{providers: []ai.Provider{provider}}, Config{}).MatchOpportunity(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, store.matches[[2]int64{7, 1}].Score)
}

func TestMatchOpportunitySkipsAIOverCandidateCap(t *testing.T) {
	store := newFakeStore(activeOpportunity(1), activeOpportunity(2), activeOpportunity(3))
	store.users = []model.User{profileUser(7, nil)}
	provider := &scoringProvider{name: "stub", score: 9}

	res, err := New(store, chain{providers: []ai.Provider{provider}}, Config{MaxStage1Candidates: 2, Threshold: 5}).MatchOpportunity(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.Zero(t, provider.calls)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, 5.0, res.Outcomes[0].Score)
	assert.Equal(t, tooManyReason, res.Outcomes[0].Justification)
}

func TestMatchOpportunityRaisesConfigurationErrors(t *testing.T) {
	store := newFakeStore(activeOpportunity(1))
	store.users = []model.User{profileUser(7, nil)}

	_, err := New(store, chain{err: ai.Configurationf("gemini", "missing api key")}, Config{}).MatchOpportunity(context.Background(), 1, nil)
	require.Error(t, err)
	assert.True(t, ai.IsConfiguration(err))
	assert.Empty(t, store.matches)
}

func TestMatchOpportunityNotFound(t *testing.T) {
	opp := activeOpportunity(1)
	opp.Status = model.OpportunityArchived
	store := newFakeStore(opp)

	_, err := New(store, chain{}, Config{}).MatchOpportunity(context.Background(), 1, nil)
	assert.True(t, errors.Is(err, ErrOpportunityNotFound))
}

func TestMatchOpportunityRestrictsUsers(t *testing.T) {
	store := newFakeStore(activeOpportunity(1))
	store.users = []model.User{profileUser(7, nil), profileUser(8, nil)}
	provider := &scoringProvider{name: "stub", score: 8}

	res, err := New(store, chain{providers: []ai.Provider{provider}}, Config{}).MatchOpportunity(context.Background(), 1, []int64{8})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalUsers)
	assert.Contains(t, store.matches, [2]int64{8, 1})
	assert.NotContains(t, store.matches, [2]int64{7, 1})
}

func TestMatchPending(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	old := activeOpportunity(1)
	old.CreatedAt = now.Add(-48 * time.Hour)
	store := newFakeStore(old, activeOpportunity(2), activeOpportunity(3))
	store.users = []model.User{profileUser(7, nil)}
	provider := &scoringProvider{name: "stub", score: 8}

	engine := New(store, chain{providers: []ai.Provider{provider}}, Config{MaxStage1Candidates: 5}, WithClock(func() time.Time { return now }))
	res, err := engine.MatchPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Created)
	assert.NotContains(t, store.matches, [2]int64{7, 1})
}
