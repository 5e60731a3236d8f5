package processing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/model"
)

// memStore is an in-memory Store. InTx restores the previous state when the
// callback fails, like a rolled back transaction.
type memStore struct {
	raws    map[int64]model.RawOpportunity
	opps    map[int64]model.Opportunity
	nextOpp int64
	tax     *model.Taxonomy

	hashBackfills []int64
	saveErr       error
}

func newMemStore(tax *model.Taxonomy) *memStore {
	return &memStore{
		raws: map[int64]model.RawOpportunity{},
		opps: map[int64]model.Opportunity{},
		tax:  tax,
	}
}

func (m *memStore) addRaw(r model.RawOpportunity) {
	if r.Status == "" {
		r.Status = model.RawNew
	}
	m.raws[r.ID] = r
}

func (m *memStore) addOpportunity(o model.Opportunity) {
	if o.ID > m.nextOpp {
		m.nextOpp = o.ID
	}
	m.opps[o.ID] = o
}

func copyOpp(o model.Opportunity) model.Opportunity {
	o.Metadata = o.Metadata.Clone()
	return o
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	raws := make(map[int64]model.RawOpportunity, len(m.raws))
	for k, v := range m.raws {
		raws[k] = v
	}
	opps := make(map[int64]model.Opportunity, len(m.opps))
	for k, v := range m.opps {
		opps[k] = copyOpp(v)
	}
	next := m.nextOpp

	if err := fn(ctx); err != nil {
		m.raws, m.opps, m.nextOpp = raws, opps, next
		return err
	}
	return nil
}

func (m *memStore) LockRaw(_ context.Context, id int64) (*model.RawOpportunity, error) {
	r, ok := m.raws[id]
	if !ok {
		return nil, fmt.Errorf("raw %d: %w", id, model.ErrNotFound)
	}
	return &r, nil
}

func (m *memStore) UpdateRaw(_ context.Context, raw *model.RawOpportunity) error {
	m.raws[raw.ID] = *raw
	return nil
}

func (m *memStore) sortedRaws(desc bool) []model.RawOpportunity {
	out := make([]model.RawOpportunity, 0, len(m.raws))
	for _, r := range m.raws {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) ExtractedRawsByHash(_ context.Context, hash string, excludeID int64, limit int) ([]model.RawOpportunity, error) {
	var out []model.RawOpportunity
	for _, r := range m.sortedRaws(true) {
		if r.ID != excludeID && r.Status == model.RawExtracted && r.ContentHash == hash {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) UnhashedExtractedRaws(_ context.Context, excludeID int64, limit int) ([]model.RawOpportunity, error) {
	var out []model.RawOpportunity
	for _, r := range m.sortedRaws(true) {
		if r.ID != excludeID && r.Status == model.RawExtracted && r.ContentHash == "" {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) SetRawHash(_ context.Context, id int64, hash string) error {
	r := m.raws[id]
	r.ContentHash = hash
	m.raws[id] = r
	m.hashBackfills = append(m.hashBackfills, id)
	return nil
}

func (m *memStore) OpportunityByRaw(_ context.Context, rawID int64) (*model.Opportunity, error) {
	for _, o := range m.opps {
		if o.RawID != nil && *o.RawID == rawID {
			c := copyOpp(o)
			return &c, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *memStore) SaveOpportunity(_ context.Context, opp *model.Opportunity) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, o := range m.opps {
		if o.ID != opp.ID && o.RawID != nil && opp.RawID != nil && *o.RawID == *opp.RawID {
			return fmt.Errorf("duplicate opportunity for raw %d", *opp.RawID)
		}
	}
	if opp.ID == 0 {
		m.nextOpp++
		opp.ID = m.nextOpp
	}
	m.opps[opp.ID] = copyOpp(*opp)
	return nil
}

func (m *memStore) MarkRawError(_ context.Context, id int64, status model.RawStatus, msg string) error {
	r, ok := m.raws[id]
	if !ok {
		return model.ErrNotFound
	}
	if status != "" {
		r.Status = status
	}
	r.ErrorMessage = msg
	m.raws[id] = r
	return nil
}

func (m *memStore) PendingRawIDs(_ context.Context, limit int) ([]int64, error) {
	var ids []int64
	for _, r := range m.sortedRaws(false) {
		if r.Status == model.RawNew || r.Status == model.RawTranslated {
			ids = append(ids, r.ID)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (m *memStore) Taxonomy(context.Context) (*model.Taxonomy, error) {
	return m.tax, nil
}

func (m *memStore) opportunityOf(rawID int64) *model.Opportunity {
	o, err := m.OpportunityByRaw(context.Background(), rawID)
	if err != nil {
		return nil
	}
	return o
}

// fakeProvider answers from canned values and counts calls.
type fakeProvider struct {
	name        string
	translation string
	strict      string
	extraction  map[string]any
	jsonErr     error
	translErr   error

	translateCalls int
	textCalls      int
	jsonCalls      int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GenerateText(ctx context.Context, req ai.TextRequest) (*ai.TextResult, error) {
	f.textCalls++
	return &ai.TextResult{Text: f.strict, Model: f.name + "-model"}, nil
}

func (f *fakeProvider) GenerateJSON(ctx context.Context, req ai.JSONRequest) (*ai.JSONResult, error) {
	f.jsonCalls++
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	data := make(map[string]any, len(f.extraction))
	for k, v := range f.extraction {
		data[k] = v
	}
	return &ai.JSONResult{Data: data, Model: f.name + "-model"}, nil
}

func (f *fakeProvider) TranslateToEnglish(ctx context.Context, req ai.TranslateRequest) (*ai.TextResult, error) {
	f.translateCalls++
	if f.translErr != nil {
		return nil, f.translErr
	}
	return &ai.TextResult{Text: f.translation, Model: f.name + "-model"}, nil
}

type staticChain struct {
	providers []ai.Provider
	err       error
}

func (c staticChain) Chain() ([]ai.Provider, error) { return c.providers, c.err }

type recordingEnqueuer struct {
	ids    []int64
	delays []time.Duration
}

func (r *recordingEnqueuer) EnqueueMatch(_ context.Context, id int64, delay time.Duration) error {
	r.ids = append(r.ids, id)
	r.delays = append(r.delays, delay)
	return nil
}
