package model

import (
	"fmt"
	"strings"
	"time"
)

// Source is an ingestion origin together with its health counters.
type Source struct {
	ID                  int64
	Type                SourceType
	Name                string
	Identifier          string
	Enabled             bool
	PollIntervalMinutes int

	TotalRuns           int
	SuccessfulRuns      int
	ConsecutiveFailures int
	LastRunAt           *time.Time
	LastSuccessAt       *time.Time
	LastErrorAt         *time.Time
	LastError           string
}

// Due reports whether the source should be polled at now.
func (s Source) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastRunAt == nil || s.PollIntervalMinutes <= 0 {
		return true
	}
	return !now.Before(s.LastRunAt.Add(time.Duration(s.PollIntervalMinutes) * time.Minute))
}

// RawOpportunity is the durable audit record of one ingested post.
type RawOpportunity struct {
	ID               int64
	SourceID         int64
	ExternalID       string
	SourceURL        string
	RawText          string
	DetectedLanguage string
	TextEN           string
	ContentHash      string
	Status           RawStatus
	ErrorMessage     string
	PublishedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Opportunity is a structured, taxonomy-classified posting.
type Opportunity struct {
	ID               int64
	RawID            *int64
	Title            string
	Organization     string
	DescriptionEN    string
	SourceURL        string
	TypeID           int64
	DomainID         int64
	SpecializationID int64
	LocationID       *int64
	IsRemote         bool
	WorkMode         WorkMode
	EmploymentType   EmploymentType
	ExperienceLevel  ExperienceLevel
	MinCompensation  *int
	MaxCompensation  *int
	Deadline         *time.Time
	Status           OpportunityStatus
	Metadata         Metadata
	PublishedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks required fields and the taxonomy chain.
func (o *Opportunity) Validate(tax *Taxonomy) error {
	if strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidOpportunity)
	}
	if o.MinCompensation != nil && o.MaxCompensation != nil && *o.MinCompensation > *o.MaxCompensation {
		return fmt.Errorf("%w: min compensation %d exceeds max %d", ErrInvalidOpportunity, *o.MinCompensation, *o.MaxCompensation)
	}
	if tax == nil {
		return nil
	}
	if err := tax.ValidateChain(o.TypeID, o.DomainID, o.SpecializationID); err != nil {
		return err
	}
	if o.LocationID != nil {
		if _, ok := tax.Locations[*o.LocationID]; !ok {
			return fmt.Errorf("%w: location %d", ErrUnknownTaxonomy, *o.LocationID)
		}
	}
	return nil
}

// CopyStructured copies every extracted field of src onto o, keeping o's
// identity, raw link and metadata.
func (o *Opportunity) CopyStructured(src *Opportunity) {
	o.Title = src.Title
	o.Organization = src.Organization
	o.DescriptionEN = src.DescriptionEN
	o.SourceURL = src.SourceURL
	o.TypeID = src.TypeID
	o.DomainID = src.DomainID
	o.SpecializationID = src.SpecializationID
	o.LocationID = cloneInt64(src.LocationID)
	o.IsRemote = src.IsRemote
	o.WorkMode = src.WorkMode
	o.EmploymentType = src.EmploymentType
	o.ExperienceLevel = src.ExperienceLevel
	o.MinCompensation = cloneInt(src.MinCompensation)
	o.MaxCompensation = cloneInt(src.MaxCompensation)
	if src.Deadline != nil {
		d := *src.Deadline
		o.Deadline = &d
	} else {
		o.Deadline = nil
	}
	o.Status = src.Status
}

// Match is a persisted user to opportunity relevance record.
type Match struct {
	ID            int64
	UserID        int64
	OpportunityID int64
	Score         float64
	Justification string
	Stage1Passed  bool
	Stage2Score   *float64
	Status        MatchStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MatchConfig holds a user's structured matching preferences. Empty sets and
// nil bounds match anything.
type MatchConfig struct {
	UserID          int64
	ThresholdScore  float64
	PreferredTypes  []int64
	MutedTypes      []int64
	Domains         []int64
	Specializations []int64
	Locations       []int64
	WorkMode        WorkMode
	EmploymentType  EmploymentType
	ExperienceLevel ExperienceLevel
	MinCompensation *int
	MaxCompensation *int
	DeadlineAfter   *time.Time
	DeadlineBefore  *time.Time
}

// User is a matchable account with its profile snapshot.
type User struct {
	ID          int64
	Email       string
	Active      bool
	ProfileText string
	ProfileJSON map[string]any
	Config      *MatchConfig
}

// HasProfile reports whether the user carries a non-empty matching snapshot.
func (u User) HasProfile() bool {
	return strings.TrimSpace(u.ProfileText) != "" || len(u.ProfileJSON) > 0
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
