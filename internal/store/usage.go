package store

import (
	"context"
	"fmt"

	"github.com/oppfinder/pipeline/internal/ai"
)

// RecordUsage persists one AI call record into ai_usage.
func (s *Store) RecordUsage(ctx context.Context, rec ai.UsageRecord) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO ai_usage (provider, model, operation, context, user_id, prompt_length,
		                       response_length, tokens_used, success, error_message,
		                       api_key_masked, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.Provider, rec.Model, rec.Operation, rec.Context, rec.UserID, rec.PromptLength,
		rec.ResponseLength, rec.TokensUsed, rec.Success, rec.ErrorMessage,
		rec.APIKeyMasked, rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ai usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates calls per provider since the given number of hours.
type UsageSummary struct {
	Provider string
	Calls    int64
	Failures int64
}

func (s *Store) UsageByProvider(ctx context.Context, hours int) ([]UsageSummary, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT provider, COUNT(*), COUNT(*) FILTER (WHERE NOT success)
		 FROM ai_usage
		 WHERE created_at >= NOW() - make_interval(hours => $1)
		 GROUP BY provider ORDER BY provider`, hours)
	if err != nil {
		return nil, fmt.Errorf("usage by provider: %w", err)
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.Provider, &u.Calls, &u.Failures); err != nil {
			return nil, fmt.Errorf("usage by provider scan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
