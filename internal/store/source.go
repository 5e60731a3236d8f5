package store

import (
	"context"
	"fmt"
	"time"

	"github.com/oppfinder/pipeline/internal/model"

	"github.com/jackc/pgx/v5"
)

const sourceColumns = `id, source_type, name, identifier, enabled, poll_interval_minutes,
	total_runs, successful_runs, consecutive_failures, last_run_at, last_success_at,
	last_error_at, last_error`

func scanSource(row pgx.Row) (*model.Source, error) {
	var src model.Source
	err := row.Scan(
		&src.ID, &src.Type, &src.Name, &src.Identifier, &src.Enabled, &src.PollIntervalMinutes,
		&src.TotalRuns, &src.SuccessfulRuns, &src.ConsecutiveFailures, &src.LastRunAt,
		&src.LastSuccessAt, &src.LastErrorAt, &src.LastError,
	)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// EnabledSources lists enabled sources in id order. An empty typ selects
// every type.
func (s *Store) EnabledSources(ctx context.Context, typ model.SourceType) ([]model.Source, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+sourceColumns+` FROM sources
		 WHERE enabled AND ($1 = '' OR source_type = $1)
		 ORDER BY id`, string(typ))
	if err != nil {
		return nil, fmt.Errorf("enabled sources: %w", err)
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("enabled sources scan: %w", err)
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

func (s *Store) SourceByID(ctx context.Context, id int64) (*model.Source, error) {
	src, err := scanSource(s.q(ctx).QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "source %d", id)
	}
	return src, nil
}

// UpsertSource registers a source by (type, identifier), updating its name,
// interval and enabled flag when it already exists.
func (s *Store) UpsertSource(ctx context.Context, src *model.Source) error {
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO sources (source_type, name, identifier, enabled, poll_interval_minutes)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_type, identifier) DO UPDATE
		 SET name = EXCLUDED.name, enabled = EXCLUDED.enabled,
		     poll_interval_minutes = EXCLUDED.poll_interval_minutes
		 RETURNING id`,
		string(src.Type), src.Name, src.Identifier, src.Enabled, src.PollIntervalMinutes,
	).Scan(&src.ID)
	if err != nil {
		return fmt.Errorf("upsert source %s/%s: %w", src.Type, src.Identifier, err)
	}
	return nil
}

// RecordSourceRun updates the health counters after an ingestion run. The
// last error is kept on success for operator visibility.
func (s *Store) RecordSourceRun(ctx context.Context, id int64, success bool, errMsg string, at time.Time) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE sources
		 SET total_runs = total_runs + 1,
		     last_run_at = $2,
		     successful_runs = successful_runs + CASE WHEN $3 THEN 1 ELSE 0 END,
		     consecutive_failures = CASE WHEN $3 THEN 0 ELSE consecutive_failures + 1 END,
		     last_success_at = CASE WHEN $3 THEN $2 ELSE last_success_at END,
		     last_error_at = CASE WHEN $3 THEN last_error_at ELSE $2 END,
		     last_error = CASE WHEN $3 THEN last_error ELSE $4 END
		 WHERE id = $1`,
		id, at, success, errMsg)
	if err != nil {
		return fmt.Errorf("record source run %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record source run %d: %w", id, ErrNotFound)
	}
	return nil
}
