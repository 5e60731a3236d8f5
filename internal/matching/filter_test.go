package matching

import (
	"strings"
	"testing"
	"time"

	"github.com/oppfinder/pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func locationTaxonomy() *model.Taxonomy {
	return model.NewTaxonomy(nil, nil, nil, []model.Location{
		{ID: 1, Name: "Ethiopia"},
		{ID: 2, ParentID: int64Ptr(1), Name: "Addis Ababa"},
		{ID: 3, ParentID: int64Ptr(2), Name: "Bole"},
		{ID: 4, ParentID: int64Ptr(3), Name: "Too deep"},
	})
}

func TestEmptyFilterMatchesActiveOpportunity(t *testing.T) {
	f := BuildFilter(&model.MatchConfig{
		WorkMode:        model.WorkModeAny,
		EmploymentType:  model.EmploymentAny,
		ExperienceLevel: model.ExperienceAny,
	}, nil)
	assert.True(t, f.Matches(activeOpportunity(1)))

	where, args := f.Where("o", 1)
	assert.Equal(t, "o.status = 'ACTIVE'", where)
	assert.Empty(t, args)

	archived := activeOpportunity(2)
	archived.Status = model.OpportunityArchived
	assert.False(t, f.Matches(archived))
}

func TestMutedTypesIgnoredWhenPreferredSet(t *testing.T) {
	f := BuildFilter(&model.MatchConfig{PreferredTypes: []int64{1}, MutedTypes: []int64{1}}, nil)
	assert.Empty(t, f.MutedTypes)
	assert.True(t, f.Matches(activeOpportunity(1)))
}

func TestLocationsExpandTwoLevels(t *testing.T) {
	f := BuildFilter(&model.MatchConfig{Locations: []int64{1}}, locationTaxonomy())
	assert.Equal(t, []int64{1, 2, 3}, f.Locations)

	opp := activeOpportunity(1)
	opp.LocationID = int64Ptr(3)
	assert.True(t, f.Matches(opp))
	opp.LocationID = int64Ptr(4)
	assert.False(t, f.Matches(opp))
}

func TestCompensationOverlap(t *testing.T) {
	f := BuildFilter(&model.MatchConfig{MinCompensation: intPtr(2000), MaxCompensation: intPtr(5000)}, nil)

	opp := activeOpportunity(1)
	opp.MinCompensation, opp.MaxCompensation = intPtr(3000), intPtr(6000)
	assert.True(t, f.Matches(opp))

	opp.MinCompensation, opp.MaxCompensation = intPtr(500), intPtr(1000)
	assert.False(t, f.Matches(opp))

	opp.MinCompensation, opp.MaxCompensation = nil, nil
	assert.False(t, f.Matches(opp), "unknown compensation never satisfies a bound")
}

func TestDeadlineWindow(t *testing.T) {
	after := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := BuildFilter(&model.MatchConfig{DeadlineAfter: &after, DeadlineBefore: &before}, nil)

	opp := activeOpportunity(1)
	in := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	opp.Deadline = &in
	assert.True(t, f.Matches(opp))

	out := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	opp.Deadline = &out
	assert.False(t, f.Matches(opp))

	opp.Deadline = nil
	assert.False(t, f.Matches(opp))
}

func TestWhereRendersPlaceholdersInOrder(t *testing.T) {
	f := BuildFilter(&model.MatchConfig{
		MutedTypes:      []int64{3},
		Domains:         []int64{10},
		WorkMode:        model.WorkModeRemote,
		MinCompensation: intPtr(2000),
	}, nil)

	where, args := f.Where("o", 2)
	require.Len(t, args, 4)
	assert.Equal(t, []int64{3}, args[0])
	assert.Equal(t, "REMOTE", args[2])
	assert.Equal(t, 2000, args[3])
	for _, want := range []string{
		"NOT (o.op_type_id = ANY($2))",
		"o.domain_id = ANY($3)",
		"o.work_mode = $4",
		"o.max_compensation >= $5",
	} {
		assert.True(t, strings.Contains(where, want), "missing %q in %q", want, where)
	}
}

func TestBuildMatchPrompt(t *testing.T) {
	opp := activeOpportunity(1)
	opp.Organization = "Acme"
	opp.MaxCompensation = intPtr(5000)

	prompt := buildMatchPrompt(opp, model.User{ID: 1})
	assert.Contains(t, prompt, noProfileText)
	assert.Contains(t, prompt, "Title: Backend Engineer")
	assert.Contains(t, prompt, "Organization: Acme")
	assert.Contains(t, prompt, "Compensation: max: 5000")
	assert.NotContains(t, prompt, "{{")
}
