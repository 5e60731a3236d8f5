package store

import (
	"context"
	"fmt"

	"github.com/oppfinder/pipeline/internal/model"
)

// MatchableUsers lists active users with a non-empty matching profile and
// their match config, restricted to ids when given.
func (s *Store) MatchableUsers(ctx context.Context, ids []int64) ([]model.User, error) {
	var filter []int64
	if len(ids) > 0 {
		filter = ids
	}
	rows, err := s.q(ctx).Query(ctx,
		`SELECT u.id, u.email, u.is_active, p.matching_profile_text, p.matching_profile_json,
		        c.user_id IS NOT NULL,
		        COALESCE(c.threshold_score, 0),
		        COALESCE(c.preferred_opportunity_types, '{}'),
		        COALESCE(c.muted_opportunity_types, '{}'),
		        COALESCE(c.preferred_domains, '{}'),
		        COALESCE(c.preferred_specializations, '{}'),
		        COALESCE(c.preferred_locations, '{}'),
		        COALESCE(c.work_mode, 'ANY'),
		        COALESCE(c.employment_type, 'ANY'),
		        COALESCE(c.experience_level, 'ANY'),
		        c.min_compensation, c.max_compensation, c.deadline_after, c.deadline_before
		 FROM users u
		 JOIN user_profiles p ON p.user_id = u.id
		 LEFT JOIN match_configs c ON c.user_id = u.id
		 WHERE u.is_active
		   AND (p.matching_profile_text <> ''
		        OR (p.matching_profile_json IS NOT NULL AND p.matching_profile_json <> '{}'::jsonb))
		   AND ($1::bigint[] IS NULL OR u.id = ANY($1))
		 ORDER BY u.id`,
		filter)
	if err != nil {
		return nil, fmt.Errorf("matchable users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var (
			u         model.User
			cfg       model.MatchConfig
			hasConfig bool
		)
		if err := rows.Scan(
			&u.ID, &u.Email, &u.Active, &u.ProfileText, &u.ProfileJSON,
			&hasConfig, &cfg.ThresholdScore,
			&cfg.PreferredTypes, &cfg.MutedTypes, &cfg.Domains, &cfg.Specializations, &cfg.Locations,
			&cfg.WorkMode, &cfg.EmploymentType, &cfg.ExperienceLevel,
			&cfg.MinCompensation, &cfg.MaxCompensation, &cfg.DeadlineAfter, &cfg.DeadlineBefore,
		); err != nil {
			return nil, fmt.Errorf("matchable users scan: %w", err)
		}
		if hasConfig {
			cfg.UserID = u.ID
			u.Config = &cfg
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) ExistingMatch(ctx context.Context, userID, opportunityID int64) (*model.Match, error) {
	var m model.Match
	err := s.q(ctx).QueryRow(ctx,
		`SELECT id, user_id, opportunity_id, match_score, justification, stage1_passed,
		        stage2_score, status, created_at, updated_at
		 FROM matches WHERE user_id = $1 AND opportunity_id = $2`,
		userID, opportunityID,
	).Scan(
		&m.ID, &m.UserID, &m.OpportunityID, &m.Score, &m.Justification, &m.Stage1Passed,
		&m.Stage2Score, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "match %d/%d", userID, opportunityID)
	}
	return &m, nil
}

// UpsertMatch writes the (user, opportunity) row, always forcing ACTIVE and
// stage1_passed. It reports whether the row was inserted.
func (s *Store) UpsertMatch(ctx context.Context, m *model.Match) (bool, error) {
	var inserted bool
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO matches (user_id, opportunity_id, match_score, justification,
		                      stage1_passed, stage2_score, status)
		 VALUES ($1, $2, $3, $4, TRUE, $5, 'ACTIVE')
		 ON CONFLICT (user_id, opportunity_id) DO UPDATE
		 SET match_score = EXCLUDED.match_score, justification = EXCLUDED.justification,
		     stage1_passed = TRUE, stage2_score = EXCLUDED.stage2_score,
		     status = 'ACTIVE', updated_at = NOW()
		 RETURNING id, created_at, updated_at, (xmax = 0)`,
		m.UserID, m.OpportunityID, m.Score, m.Justification, m.Stage2Score,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert match %d/%d: %w", m.UserID, m.OpportunityID, err)
	}
	m.Stage1Passed = true
	m.Status = model.MatchActive
	return inserted, nil
}
