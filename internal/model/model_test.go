package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func testTaxonomy() *Taxonomy {
	return NewTaxonomy(
		[]OpportunityType{{ID: 1, Name: "JOB"}, {ID: 2, Name: "SCHOLARSHIP"}},
		[]Domain{{ID: 10, TypeID: 1, Name: "Software"}, {ID: 20, TypeID: 2, Name: "Masters"}},
		[]Specialization{{ID: 100, DomainID: 10, Name: "Backend"}, {ID: 200, DomainID: 20, Name: "General"}},
		[]Location{
			{ID: 1, Name: "Ethiopia"},
			{ID: 2, ParentID: ptr(int64(1)), Name: "Addis Ababa"},
			{ID: 3, ParentID: ptr(int64(2)), Name: "Bole"},
			{ID: 4, ParentID: ptr(int64(3)), Name: "Too Deep"},
			{ID: 9, Name: "remote"},
		},
	)
}

func TestValidateChain(t *testing.T) {
	tax := testTaxonomy()

	require.NoError(t, tax.ValidateChain(1, 10, 100))
	assert.ErrorIs(t, tax.ValidateChain(1, 20, 200), ErrDomainMismatch)
	assert.ErrorIs(t, tax.ValidateChain(1, 10, 200), ErrSpecializationMismatch)
	assert.ErrorIs(t, tax.ValidateChain(7, 10, 100), ErrUnknownTaxonomy)
	assert.ErrorIs(t, tax.ValidateChain(1, 11, 100), ErrUnknownTaxonomy)
	assert.ErrorIs(t, tax.ValidateChain(1, 10, 101), ErrUnknownTaxonomy)
}

func TestRemoteLocationIsCaseInsensitiveRoot(t *testing.T) {
	tax := testTaxonomy()
	loc, ok := tax.RemoteLocation()
	require.True(t, ok)
	assert.Equal(t, int64(9), loc.ID)

	delete(tax.Locations, 9)
	tax.Locations[10] = Location{ID: 10, ParentID: ptr(int64(1)), Name: "Remote"}
	_, ok = tax.RemoteLocation()
	assert.False(t, ok, "nested Remote nodes are not canonical")
}

func TestLocationDescendantsStopsAtTwoLevels(t *testing.T) {
	tax := testTaxonomy()
	assert.Equal(t, []int64{1, 2, 3}, tax.LocationDescendants([]int64{1}))
	assert.Equal(t, []int64{2, 3, 4}, tax.LocationDescendants([]int64{2}))
	assert.Equal(t, []int64{42}, tax.LocationDescendants([]int64{42}))
}

func TestOpportunityValidate(t *testing.T) {
	tax := testTaxonomy()
	opp := &Opportunity{Title: "Backend Engineer", TypeID: 1, DomainID: 10, SpecializationID: 100}
	require.NoError(t, opp.Validate(tax))

	opp.LocationID = ptr(int64(77))
	assert.ErrorIs(t, opp.Validate(tax), ErrUnknownTaxonomy)

	opp.LocationID = nil
	opp.Title = "  "
	assert.ErrorIs(t, opp.Validate(tax), ErrInvalidOpportunity)

	opp.Title = "x"
	opp.MinCompensation, opp.MaxCompensation = ptr(10), ptr(5)
	assert.ErrorIs(t, opp.Validate(tax), ErrInvalidOpportunity)
}

func TestCopyStructuredKeepsIdentity(t *testing.T) {
	deadline := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &Opportunity{
		ID: 1, Title: "Backend Engineer", TypeID: 1, DomainID: 10, SpecializationID: 100,
		LocationID: ptr(int64(2)), WorkMode: WorkModeOnsite, MinCompensation: ptr(100),
		Deadline: &deadline, Status: OpportunityActive,
	}
	dst := &Opportunity{ID: 2, RawID: ptr(int64(8)), Metadata: Metadata{"x": 1}}
	dst.CopyStructured(src)

	assert.Equal(t, int64(2), dst.ID)
	assert.Equal(t, int64(8), *dst.RawID)
	assert.Equal(t, "Backend Engineer", dst.Title)
	assert.Equal(t, WorkModeOnsite, dst.WorkMode)
	assert.Equal(t, deadline, *dst.Deadline)
	assert.Equal(t, 1, dst.Metadata["x"])

	*src.LocationID = 3
	assert.Equal(t, int64(2), *dst.LocationID)
}

func TestMetadataPrune(t *testing.T) {
	m := Metadata{
		MetaExtracted: map[string]any{
			"compensation":     map[string]any{"amount": nil, "currency": "", "period": nil},
			"applicant_gender": "FEMALE",
		},
		MetaFlags: map[string]any{FlagClosedDetected: false},
	}
	m.Prune()

	extracted := m.Section(MetaExtracted)
	assert.NotContains(t, extracted, "compensation")
	assert.Equal(t, "FEMALE", extracted["applicant_gender"])
	v, ok := m.Flag(FlagClosedDetected)
	require.True(t, ok)
	assert.Equal(t, false, v)
}

func TestMetadataCloneIsDeep(t *testing.T) {
	m := Metadata{}
	m.SetFlag(FlagDedupeHit, true)
	c := m.Clone()
	c.SetFlag(FlagDedupeHit, false)

	assert.True(t, m.IsDedupeCopy())
	assert.False(t, c.IsDedupeCopy())
}

func TestSourceDue(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Source{Enabled: true, PollIntervalMinutes: 30}
	assert.True(t, s.Due(now))

	s.LastRunAt = ptr(now.Add(-10 * time.Minute))
	assert.False(t, s.Due(now))

	s.LastRunAt = ptr(now.Add(-30 * time.Minute))
	assert.True(t, s.Due(now))

	s.Enabled = false
	assert.False(t, s.Due(now))
}

func TestParseEnums(t *testing.T) {
	assert.Equal(t, WorkModeRemote, ParseWorkMode("REMOTE"))
	assert.Equal(t, WorkModeUnknown, ParseWorkMode("ANY"))
	assert.Equal(t, EmploymentUnknown, ParseEmploymentType("freelance"))
	assert.Equal(t, ExperienceSenior, ParseExperienceLevel("SENIOR"))
	assert.Equal(t, ExperienceUnknown, ParseExperienceLevel("INTERNSHIP"))

	typ, err := ParseSourceType(" rss ")
	require.NoError(t, err)
	assert.Equal(t, SourceRSS, typ)
	_, err = ParseSourceType("email")
	assert.Error(t, err)
}

func TestLocationPath(t *testing.T) {
	tax := testTaxonomy()
	assert.Equal(t, "Ethiopia / Addis Ababa / Bole", tax.LocationPath(3))
	assert.Equal(t, "remote", tax.LocationPath(9))
	assert.Equal(t, "", tax.LocationPath(404))
}

func TestTaxonomyHealth(t *testing.T) {
	tax := testTaxonomy()
	assert.Empty(t, tax.Health())

	tax.Domains[30] = Domain{ID: 30, TypeID: 99, Name: "Orphan"}
	tax.Types[3] = OpportunityType{ID: 3, Name: "TRAINING"}
	problems := tax.Health()
	require.Len(t, problems, 2)
	assert.Equal(t, "domain", problems[0].Kind)
	assert.Equal(t, "opportunity_type", problems[1].Kind)
}
