package store

import (
	"context"
	"fmt"

	"github.com/oppfinder/pipeline/internal/model"

	"github.com/jackc/pgx/v5"
)

// Taxonomy loads the full reference data snapshot.
func (s *Store) Taxonomy(ctx context.Context) (*model.Taxonomy, error) {
	q := s.q(ctx)

	rows, err := q.Query(ctx, `SELECT id, name FROM opportunity_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load opportunity types: %w", err)
	}
	types, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OpportunityType, error) {
		var t model.OpportunityType
		err := row.Scan(&t.ID, &t.Name)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan opportunity types: %w", err)
	}

	rows, err = q.Query(ctx, `SELECT id, opportunity_type_id, name FROM domains ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load domains: %w", err)
	}
	domains, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Domain, error) {
		var d model.Domain
		err := row.Scan(&d.ID, &d.TypeID, &d.Name)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan domains: %w", err)
	}

	rows, err = q.Query(ctx, `SELECT id, domain_id, name FROM specializations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load specializations: %w", err)
	}
	specs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Specialization, error) {
		var sp model.Specialization
		err := row.Scan(&sp.ID, &sp.DomainID, &sp.Name)
		return sp, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan specializations: %w", err)
	}

	rows, err = q.Query(ctx, `SELECT id, parent_id, name FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	locations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Location, error) {
		var l model.Location
		err := row.Scan(&l.ID, &l.ParentID, &l.Name)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan locations: %w", err)
	}

	return model.NewTaxonomy(types, domains, specs, locations), nil
}

// ensure inserts a row unless one already satisfies lookup, returning its id
// and whether it was created.
func (s *Store) ensure(ctx context.Context, insert, lookup string, args ...any) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := s.q(ctx).QueryRow(ctx,
		`WITH ins AS (`+insert+` ON CONFLICT DO NOTHING RETURNING id)
		 SELECT id, TRUE FROM ins
		 UNION ALL
		 SELECT id, FALSE FROM (`+lookup+`) existing
		 LIMIT 1`,
		args...,
	).Scan(&id, &created)
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

func (s *Store) EnsureType(ctx context.Context, name string) (int64, bool, error) {
	id, created, err := s.ensure(ctx,
		`INSERT INTO opportunity_types (name) VALUES ($1)`,
		`SELECT id FROM opportunity_types WHERE name = $1`,
		name)
	if err != nil {
		return 0, false, fmt.Errorf("ensure opportunity type %q: %w", name, err)
	}
	return id, created, nil
}

func (s *Store) EnsureDomain(ctx context.Context, typeID int64, name string) (int64, bool, error) {
	id, created, err := s.ensure(ctx,
		`INSERT INTO domains (opportunity_type_id, name) VALUES ($1, $2)`,
		`SELECT id FROM domains WHERE opportunity_type_id = $1 AND name = $2`,
		typeID, name)
	if err != nil {
		return 0, false, fmt.Errorf("ensure domain %q: %w", name, err)
	}
	return id, created, nil
}

func (s *Store) EnsureSpecialization(ctx context.Context, domainID int64, name string) (int64, bool, error) {
	id, created, err := s.ensure(ctx,
		`INSERT INTO specializations (domain_id, name) VALUES ($1, $2)`,
		`SELECT id FROM specializations WHERE domain_id = $1 AND name = $2`,
		domainID, name)
	if err != nil {
		return 0, false, fmt.Errorf("ensure specialization %q: %w", name, err)
	}
	return id, created, nil
}

func (s *Store) EnsureLocation(ctx context.Context, parentID *int64, name string) (int64, bool, error) {
	id, created, err := s.ensure(ctx,
		`INSERT INTO locations (parent_id, name) VALUES ($1, $2)`,
		`SELECT id FROM locations WHERE parent_id IS NOT DISTINCT FROM $1::bigint AND name = $2`,
		parentID, name)
	if err != nil {
		return 0, false, fmt.Errorf("ensure location %q: %w", name, err)
	}
	return id, created, nil
}
