package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")

	ErrUnknownTaxonomy        = errors.New("unknown taxonomy id")
	ErrDomainMismatch         = errors.New("domain does not belong to the selected opportunity type")
	ErrSpecializationMismatch = errors.New("specialization does not belong to the selected domain")
	ErrInvalidOpportunity     = errors.New("invalid opportunity")
)

// RemoteLocationName is the canonical root location used for remote postings.
const RemoteLocationName = "Remote"

type OpportunityType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Domain struct {
	ID     int64  `json:"id"`
	TypeID int64  `json:"opportunity_type_id"`
	Name   string `json:"name"`
}

type Specialization struct {
	ID       int64  `json:"id"`
	DomainID int64  `json:"domain_id"`
	Name     string `json:"name"`
}

type Location struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id"`
	Name     string `json:"name"`
}

// Taxonomy is an in-memory snapshot of the controlled reference data.
type Taxonomy struct {
	Types           map[int64]OpportunityType
	Domains         map[int64]Domain
	Specializations map[int64]Specialization
	Locations       map[int64]Location
}

// NewTaxonomy indexes the given rows by id.
func NewTaxonomy(types []OpportunityType, domains []Domain, specs []Specialization, locations []Location) *Taxonomy {
	t := &Taxonomy{
		Types:           make(map[int64]OpportunityType, len(types)),
		Domains:         make(map[int64]Domain, len(domains)),
		Specializations: make(map[int64]Specialization, len(specs)),
		Locations:       make(map[int64]Location, len(locations)),
	}
	for _, v := range types {
		t.Types[v.ID] = v
	}
	for _, v := range domains {
		t.Domains[v.ID] = v
	}
	for _, v := range specs {
		t.Specializations[v.ID] = v
	}
	for _, v := range locations {
		t.Locations[v.ID] = v
	}
	return t
}

// ValidateChain checks that all three ids exist and form a consistent
// type -> domain -> specialization chain.
func (t *Taxonomy) ValidateChain(typeID, domainID, specID int64) error {
	if _, ok := t.Types[typeID]; !ok {
		return fmt.Errorf("%w: opportunity type %d", ErrUnknownTaxonomy, typeID)
	}
	domain, ok := t.Domains[domainID]
	if !ok {
		return fmt.Errorf("%w: domain %d", ErrUnknownTaxonomy, domainID)
	}
	spec, ok := t.Specializations[specID]
	if !ok {
		return fmt.Errorf("%w: specialization %d", ErrUnknownTaxonomy, specID)
	}
	if domain.TypeID != typeID {
		return fmt.Errorf("%w: domain %d has type %d, got %d", ErrDomainMismatch, domainID, domain.TypeID, typeID)
	}
	if spec.DomainID != domainID {
		return fmt.Errorf("%w: specialization %d has domain %d, got %d", ErrSpecializationMismatch, specID, spec.DomainID, domainID)
	}
	return nil
}

// RemoteLocation returns the root location named "Remote", matched
// case-insensitively.
func (t *Taxonomy) RemoteLocation() (Location, bool) {
	var found *Location
	for _, loc := range t.Locations {
		if loc.ParentID != nil || !strings.EqualFold(strings.TrimSpace(loc.Name), RemoteLocationName) {
			continue
		}
		if found == nil || loc.ID < found.ID {
			l := loc
			found = &l
		}
	}
	if found == nil {
		return Location{}, false
	}
	return *found, true
}

// LocationPath renders a location with its ancestors, e.g. "Ethiopia / Addis Ababa".
func (t *Taxonomy) LocationPath(id int64) string {
	var parts []string
	seen := map[int64]bool{}
	for cur, ok := t.Locations[id]; ok && !seen[cur.ID]; {
		seen[cur.ID] = true
		parts = append([]string{cur.Name}, parts...)
		if cur.ParentID == nil {
			break
		}
		cur, ok = t.Locations[*cur.ParentID]
	}
	return strings.Join(parts, " / ")
}

// LocationDescendants expands ids with their children and grandchildren.
// Unknown ids are kept as-is. The result is sorted and free of duplicates.
func (t *Taxonomy) LocationDescendants(ids []int64) []int64 {
	children := make(map[int64][]int64)
	for _, loc := range t.Locations {
		if loc.ParentID != nil {
			children[*loc.ParentID] = append(children[*loc.ParentID], loc.ID)
		}
	}

	seen := make(map[int64]struct{}, len(ids))
	add := func(id int64) {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		add(id)
		for _, child := range children[id] {
			add(child)
			for _, grandchild := range children[child] {
				add(grandchild)
			}
		}
	}

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortedTypes returns types ordered by id, for prompts and exports.
func (t *Taxonomy) SortedTypes() []OpportunityType {
	out := make([]OpportunityType, 0, len(t.Types))
	for _, v := range t.Types {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Taxonomy) SortedDomains() []Domain {
	out := make([]Domain, 0, len(t.Domains))
	for _, v := range t.Domains {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Taxonomy) SortedSpecializations() []Specialization {
	out := make([]Specialization, 0, len(t.Specializations))
	for _, v := range t.Specializations {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Taxonomy) SortedLocations() []Location {
	out := make([]Location, 0, len(t.Locations))
	for _, v := range t.Locations {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Problem describes an inconsistent taxonomy row.
type Problem struct {
	Kind string
	ID   int64
	Msg  string
}

// Health reports orphan rows and types without domains.
func (t *Taxonomy) Health() []Problem {
	var problems []Problem
	for _, d := range t.SortedDomains() {
		if _, ok := t.Types[d.TypeID]; !ok {
			problems = append(problems, Problem{Kind: "domain", ID: d.ID, Msg: fmt.Sprintf("references missing opportunity type %d", d.TypeID)})
		}
	}
	for _, s := range t.SortedSpecializations() {
		if _, ok := t.Domains[s.DomainID]; !ok {
			problems = append(problems, Problem{Kind: "specialization", ID: s.ID, Msg: fmt.Sprintf("references missing domain %d", s.DomainID)})
		}
	}
	for _, l := range t.SortedLocations() {
		if l.ParentID != nil {
			if _, ok := t.Locations[*l.ParentID]; !ok {
				problems = append(problems, Problem{Kind: "location", ID: l.ID, Msg: fmt.Sprintf("references missing parent %d", *l.ParentID)})
			}
		}
	}
	for _, ty := range t.SortedTypes() {
		if !t.hasDomain(ty.ID) {
			problems = append(problems, Problem{Kind: "opportunity_type", ID: ty.ID, Msg: "has no domains"})
		}
	}
	return problems
}

func (t *Taxonomy) hasDomain(typeID int64) bool {
	for _, d := range t.Domains {
		if d.TypeID == typeID {
			return true
		}
	}
	return false
}
