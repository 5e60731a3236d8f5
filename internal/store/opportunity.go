package store

import (
	"context"
	"fmt"
	"time"

	"github.com/oppfinder/pipeline/internal/matching"
	"github.com/oppfinder/pipeline/internal/model"

	"github.com/jackc/pgx/v5"
)

const opportunityColumns = `id, raw_id, title, organization, description_en, source_url,
	op_type_id, domain_id, specialization_id, location_id, is_remote, work_mode,
	employment_type, experience_level, min_compensation, max_compensation, deadline,
	status, metadata, published_at, created_at, updated_at`

func scanOpportunity(row pgx.Row) (*model.Opportunity, error) {
	var o model.Opportunity
	err := row.Scan(
		&o.ID, &o.RawID, &o.Title, &o.Organization, &o.DescriptionEN, &o.SourceURL,
		&o.TypeID, &o.DomainID, &o.SpecializationID, &o.LocationID, &o.IsRemote, &o.WorkMode,
		&o.EmploymentType, &o.ExperienceLevel, &o.MinCompensation, &o.MaxCompensation, &o.Deadline,
		&o.Status, &o.Metadata, &o.PublishedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if o.Metadata == nil {
		o.Metadata = model.Metadata{}
	}
	return &o, nil
}

func (s *Store) OpportunityByRaw(ctx context.Context, rawID int64) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.q(ctx).QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE raw_id = $1`, rawID))
	if err != nil {
		return nil, notFound(err, "opportunity for raw %d", rawID)
	}
	return o, nil
}

// ActiveOpportunity loads an opportunity in ACTIVE status.
func (s *Store) ActiveOpportunity(ctx context.Context, id int64) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.q(ctx).QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = $1 AND status = 'ACTIVE'`, id))
	if err != nil {
		return nil, notFound(err, "active opportunity %d", id)
	}
	return o, nil
}

// SaveOpportunity inserts opp when its ID is zero, otherwise updates it.
func (s *Store) SaveOpportunity(ctx context.Context, opp *model.Opportunity) error {
	meta := opp.Metadata
	if meta == nil {
		meta = model.Metadata{}
	}
	args := []any{
		opp.RawID, opp.Title, opp.Organization, opp.DescriptionEN, opp.SourceURL,
		opp.TypeID, opp.DomainID, opp.SpecializationID, opp.LocationID, opp.IsRemote,
		string(opp.WorkMode), string(opp.EmploymentType), string(opp.ExperienceLevel),
		opp.MinCompensation, opp.MaxCompensation, opp.Deadline, string(opp.Status),
		map[string]any(meta), opp.PublishedAt,
	}

	if opp.ID == 0 {
		err := s.q(ctx).QueryRow(ctx,
			`INSERT INTO opportunities (raw_id, title, organization, description_en, source_url,
			   op_type_id, domain_id, specialization_id, location_id, is_remote, work_mode,
			   employment_type, experience_level, min_compensation, max_compensation, deadline,
			   status, metadata, published_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			 RETURNING id, created_at, updated_at`,
			args...,
		).Scan(&opp.ID, &opp.CreatedAt, &opp.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert opportunity: %w", err)
		}
		return nil
	}

	err := s.q(ctx).QueryRow(ctx,
		`UPDATE opportunities
		 SET raw_id = $1, title = $2, organization = $3, description_en = $4, source_url = $5,
		     op_type_id = $6, domain_id = $7, specialization_id = $8, location_id = $9,
		     is_remote = $10, work_mode = $11, employment_type = $12, experience_level = $13,
		     min_compensation = $14, max_compensation = $15, deadline = $16, status = $17,
		     metadata = $18, published_at = $19, updated_at = NOW()
		 WHERE id = $20
		 RETURNING updated_at`,
		append(args, opp.ID)...,
	).Scan(&opp.UpdatedAt)
	if err != nil {
		return notFound(err, "update opportunity %d", opp.ID)
	}
	return nil
}

// CountCandidates counts active opportunities passing the Stage 1 filter,
// reading at most limit rows.
func (s *Store) CountCandidates(ctx context.Context, f matching.Filter, limit int) (int, error) {
	where, args := f.Where("o", 2)
	var n int
	err := s.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM (
		   SELECT 1 FROM opportunities o WHERE `+where+`
		   ORDER BY o.published_at DESC NULLS LAST LIMIT $1
		 ) c`,
		append([]any{limit}, args...)...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return n, nil
}

// UnmatchedOpportunityIDs lists active opportunities created since the cutoff
// without any match rows, newest first.
func (s *Store) UnmatchedOpportunityIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT o.id FROM opportunities o
		 WHERE o.status = 'ACTIVE' AND o.created_at >= $1
		   AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.opportunity_id = o.id)
		 ORDER BY o.created_at DESC LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("unmatched opportunities: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("unmatched opportunities scan: %w", err)
	}
	return ids, nil
}
