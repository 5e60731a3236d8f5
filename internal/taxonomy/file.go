// Package taxonomy reads and writes the YAML taxonomy file and imports it into
// the store.
package taxonomy

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/oppfinder/pipeline/internal/model"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is the on-disk taxonomy layout.
type File struct {
	Types     []TypeEntry     `yaml:"types"`
	Locations []LocationEntry `yaml:"locations,omitempty"`
}

type TypeEntry struct {
	Name    string        `yaml:"name"`
	Domains []DomainEntry `yaml:"domains,omitempty"`
}

type DomainEntry struct {
	Name            string   `yaml:"name"`
	Specializations []string `yaml:"specializations,omitempty"`
}

type LocationEntry struct {
	Name     string          `yaml:"name"`
	Children []LocationEntry `yaml:"children,omitempty"`
}

// Parse decodes a taxonomy file and rejects blank names.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("decoding taxonomy file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	for i, t := range f.Types {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("types[%d]: name is empty", i)
		}
		for j, d := range t.Domains {
			if strings.TrimSpace(d.Name) == "" {
				return fmt.Errorf("types[%d].domains[%d]: name is empty", i, j)
			}
			for k, s := range d.Specializations {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("types[%d].domains[%d].specializations[%d]: name is empty", i, j, k)
				}
			}
		}
	}
	return validateLocations("locations", f.Locations)
}

func validateLocations(path string, locs []LocationEntry) error {
	for i, l := range locs {
		p := fmt.Sprintf("%s[%d]", path, i)
		if strings.TrimSpace(l.Name) == "" {
			return fmt.Errorf("%s: name is empty", p)
		}
		if err := validateLocations(p+".children", l.Children); err != nil {
			return err
		}
	}
	return nil
}

// Write encodes f as YAML.
func (f *File) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encoding taxonomy file: %w", err)
	}
	return enc.Close()
}

// FromTaxonomy builds the file representation of a stored taxonomy.
func FromTaxonomy(tax *model.Taxonomy) *File {
	f := &File{}
	for _, t := range tax.SortedTypes() {
		entry := TypeEntry{Name: t.Name}
		for _, d := range tax.SortedDomains() {
			if d.TypeID != t.ID {
				continue
			}
			de := DomainEntry{Name: d.Name}
			for _, s := range tax.SortedSpecializations() {
				if s.DomainID == d.ID {
					de.Specializations = append(de.Specializations, s.Name)
				}
			}
			entry.Domains = append(entry.Domains, de)
		}
		f.Types = append(f.Types, entry)
	}

	children := map[int64][]model.Location{}
	var roots []model.Location
	for _, l := range tax.SortedLocations() {
		if l.ParentID == nil {
			roots = append(roots, l)
			continue
		}
		children[*l.ParentID] = append(children[*l.ParentID], l)
	}
	var build func(locs []model.Location) []LocationEntry
	build = func(locs []model.Location) []LocationEntry {
		sort.Slice(locs, func(i, j int) bool { return locs[i].Name < locs[j].Name })
		out := make([]LocationEntry, 0, len(locs))
		for _, l := range locs {
			out = append(out, LocationEntry{Name: l.Name, Children: build(children[l.ID])})
		}
		return out
	}
	f.Locations = build(roots)
	return f
}

// Store creates taxonomy rows by name, returning the existing id when the row
// is already present.
type Store interface {
	EnsureType(ctx context.Context, name string) (id int64, created bool, err error)
	EnsureDomain(ctx context.Context, typeID int64, name string) (id int64, created bool, err error)
	EnsureSpecialization(ctx context.Context, domainID int64, name string) (id int64, created bool, err error)
	EnsureLocation(ctx context.Context, parentID *int64, name string) (id int64, created bool, err error)
}

// Stats counts rows touched by an import.
type Stats struct {
	Created  int
	Existing int
}

func (s *Stats) add(created bool) {
	if created {
		s.Created++
	} else {
		s.Existing++
	}
}

// Import writes every entry of f through store. Existing rows are left as is.
func Import(ctx context.Context, store Store, f *File, log *zap.Logger) (Stats, error) {
	var stats Stats
	if log == nil {
		log = zap.NewNop()
	}

	for _, t := range f.Types {
		typeID, created, err := store.EnsureType(ctx, strings.TrimSpace(t.Name))
		if err != nil {
			return stats, fmt.Errorf("importing type %q: %w", t.Name, err)
		}
		stats.add(created)
		for _, d := range t.Domains {
			domainID, created, err := store.EnsureDomain(ctx, typeID, strings.TrimSpace(d.Name))
			if err != nil {
				return stats, fmt.Errorf("importing domain %q: %w", d.Name, err)
			}
			stats.add(created)
			for _, s := range d.Specializations {
				_, created, err := store.EnsureSpecialization(ctx, domainID, strings.TrimSpace(s))
				if err != nil {
					return stats, fmt.Errorf("importing specialization %q: %w", s, err)
				}
				stats.add(created)
			}
		}
	}

	var importLocations func(parent *int64, locs []LocationEntry) error
	importLocations = func(parent *int64, locs []LocationEntry) error {
		for _, l := range locs {
			id, created, err := store.EnsureLocation(ctx, parent, strings.TrimSpace(l.Name))
			if err != nil {
				return fmt.Errorf("importing location %q: %w", l.Name, err)
			}
			stats.add(created)
			if err := importLocations(&id, l.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := importLocations(nil, f.Locations); err != nil {
		return stats, err
	}

	log.Info("taxonomy imported", zap.Int("created", stats.Created), zap.Int("existing", stats.Existing))
	return stats, nil
}
