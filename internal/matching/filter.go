package matching

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oppfinder/pipeline/internal/model"
)

// Filter is the Stage 1 pre-filter derived from a user's MatchConfig. Empty
// sets and nil bounds do not constrain anything.
type Filter struct {
	Types           []int64
	MutedTypes      []int64
	Domains         []int64
	Specializations []int64
	// Locations already includes children and grandchildren of the
	// configured locations.
	Locations       []int64
	WorkMode        model.WorkMode
	EmploymentType  model.EmploymentType
	ExperienceLevel model.ExperienceLevel
	MinCompensation *int
	MaxCompensation *int
	DeadlineAfter   *time.Time
	DeadlineBefore  *time.Time
}

// BuildFilter turns cfg into a Filter. Muted types only apply when no
// preferred types are set. A nil cfg yields an empty filter.
func BuildFilter(cfg *model.MatchConfig, tax *model.Taxonomy) Filter {
	if cfg == nil {
		return Filter{}
	}
	f := Filter{
		Domains:         cfg.Domains,
		Specializations: cfg.Specializations,
		MinCompensation: cfg.MinCompensation,
		MaxCompensation: cfg.MaxCompensation,
		DeadlineAfter:   cfg.DeadlineAfter,
		DeadlineBefore:  cfg.DeadlineBefore,
	}
	if len(cfg.PreferredTypes) > 0 {
		f.Types = cfg.PreferredTypes
	} else {
		f.MutedTypes = cfg.MutedTypes
	}
	if len(cfg.Locations) > 0 {
		if tax != nil {
			f.Locations = tax.LocationDescendants(cfg.Locations)
		} else {
			f.Locations = cfg.Locations
		}
	}
	if cfg.WorkMode != model.WorkModeAny && cfg.WorkMode != "" {
		f.WorkMode = cfg.WorkMode
	}
	if cfg.EmploymentType != model.EmploymentAny && cfg.EmploymentType != "" {
		f.EmploymentType = cfg.EmploymentType
	}
	if cfg.ExperienceLevel != model.ExperienceAny && cfg.ExperienceLevel != "" {
		f.ExperienceLevel = cfg.ExperienceLevel
	}
	return f
}

// Matches evaluates the filter against a single opportunity with the same
// semantics as the SQL rendering, including NULL columns never satisfying a
// comparison.
func (f Filter) Matches(o *model.Opportunity) bool {
	if o == nil || o.Status != model.OpportunityActive {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, o.TypeID) {
		return false
	}
	if len(f.MutedTypes) > 0 && slices.Contains(f.MutedTypes, o.TypeID) {
		return false
	}
	if len(f.Domains) > 0 && !slices.Contains(f.Domains, o.DomainID) {
		return false
	}
	if len(f.Specializations) > 0 && !slices.Contains(f.Specializations, o.SpecializationID) {
		return false
	}
	if len(f.Locations) > 0 && (o.LocationID == nil || !slices.Contains(f.Locations, *o.LocationID)) {
		return false
	}
	if f.WorkMode != "" && o.WorkMode != f.WorkMode {
		return false
	}
	if f.EmploymentType != "" && o.EmploymentType != f.EmploymentType {
		return false
	}
	if f.ExperienceLevel != "" && o.ExperienceLevel != f.ExperienceLevel {
		return false
	}
	if f.MinCompensation != nil && (o.MaxCompensation == nil || *o.MaxCompensation < *f.MinCompensation) {
		return false
	}
	if f.MaxCompensation != nil && (o.MinCompensation == nil || *o.MinCompensation > *f.MaxCompensation) {
		return false
	}
	if f.DeadlineAfter != nil && (o.Deadline == nil || o.Deadline.Before(*f.DeadlineAfter)) {
		return false
	}
	if f.DeadlineBefore != nil && (o.Deadline == nil || o.Deadline.After(*f.DeadlineBefore)) {
		return false
	}
	return true
}

// Where renders the filter as a Postgres condition over the opportunities
// table aliased as alias. Placeholders start at $start.
func (f Filter) Where(alias string, start int) (string, []any) {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}

	conds := []string{col("status") + " = '" + string(model.OpportunityActive) + "'"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", start+len(args)-1)
	}

	if len(f.Types) > 0 {
		conds = append(conds, col("op_type_id")+" = ANY("+arg(f.Types)+")")
	}
	if len(f.MutedTypes) > 0 {
		conds = append(conds, "NOT ("+col("op_type_id")+" = ANY("+arg(f.MutedTypes)+"))")
	}
	if len(f.Domains) > 0 {
		conds = append(conds, col("domain_id")+" = ANY("+arg(f.Domains)+")")
	}
	if len(f.Specializations) > 0 {
		conds = append(conds, col("specialization_id")+" = ANY("+arg(f.Specializations)+")")
	}
	if len(f.Locations) > 0 {
		conds = append(conds, col("location_id")+" = ANY("+arg(f.Locations)+")")
	}
	if f.WorkMode != "" {
		conds = append(conds, col("work_mode")+" = "+arg(string(f.WorkMode)))
	}
	if f.EmploymentType != "" {
		conds = append(conds, col("employment_type")+" = "+arg(string(f.EmploymentType)))
	}
	if f.ExperienceLevel != "" {
		conds = append(conds, col("experience_level")+" = "+arg(string(f.ExperienceLevel)))
	}
	if f.MinCompensation != nil {
		conds = append(conds, col("max_compensation")+" >= "+arg(*f.MinCompensation))
	}
	if f.MaxCompensation != nil {
		conds = append(conds, col("min_compensation")+" <= "+arg(*f.MaxCompensation))
	}
	if f.DeadlineAfter != nil {
		conds = append(conds, col("deadline")+" >= "+arg(*f.DeadlineAfter))
	}
	if f.DeadlineBefore != nil {
		conds = append(conds, col("deadline")+" <= "+arg(*f.DeadlineBefore))
	}
	return strings.Join(conds, " AND "), args
}
