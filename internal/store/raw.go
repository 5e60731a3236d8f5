package store

import (
	"context"
	"fmt"

	"github.com/oppfinder/pipeline/internal/model"

	"github.com/jackc/pgx/v5"
)

const rawColumns = `id, source_id, external_id, source_url, raw_text, detected_language,
	text_en, content_hash, status, error_message, published_at, created_at, updated_at`

func scanRaw(row pgx.Row) (*model.RawOpportunity, error) {
	var r model.RawOpportunity
	err := row.Scan(
		&r.ID, &r.SourceID, &r.ExternalID, &r.SourceURL, &r.RawText, &r.DetectedLanguage,
		&r.TextEN, &r.ContentHash, &r.Status, &r.ErrorMessage, &r.PublishedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) queryRaws(ctx context.Context, sql string, args ...any) ([]model.RawOpportunity, error) {
	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RawOpportunity
	for rows.Next() {
		r, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LockRaw loads a raw opportunity with FOR UPDATE. It must run inside InTx
// for the lock to outlive the statement.
func (s *Store) LockRaw(ctx context.Context, id int64) (*model.RawOpportunity, error) {
	r, err := scanRaw(s.q(ctx).QueryRow(ctx,
		`SELECT `+rawColumns+` FROM raw_opportunities WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "lock raw %d", id)
	}
	return r, nil
}

func (s *Store) RawByID(ctx context.Context, id int64) (*model.RawOpportunity, error) {
	r, err := scanRaw(s.q(ctx).QueryRow(ctx,
		`SELECT `+rawColumns+` FROM raw_opportunities WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "raw %d", id)
	}
	return r, nil
}

func (s *Store) UpdateRaw(ctx context.Context, raw *model.RawOpportunity) error {
	err := s.q(ctx).QueryRow(ctx,
		`UPDATE raw_opportunities
		 SET detected_language = $2, text_en = $3, content_hash = $4, status = $5,
		     error_message = $6, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		raw.ID, raw.DetectedLanguage, raw.TextEN, raw.ContentHash, raw.Status, raw.ErrorMessage,
	).Scan(&raw.UpdatedAt)
	if err != nil {
		return notFound(err, "update raw %d", raw.ID)
	}
	return nil
}

func (s *Store) ExtractedRawsByHash(ctx context.Context, hash string, excludeID int64, limit int) ([]model.RawOpportunity, error) {
	out, err := s.queryRaws(ctx,
		`SELECT `+rawColumns+` FROM raw_opportunities
		 WHERE content_hash = $1 AND id <> $2 AND status = 'EXTRACTED'
		 ORDER BY id DESC LIMIT $3`,
		hash, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("raws by hash: %w", err)
	}
	return out, nil
}

func (s *Store) UnhashedExtractedRaws(ctx context.Context, excludeID int64, limit int) ([]model.RawOpportunity, error) {
	out, err := s.queryRaws(ctx,
		`SELECT `+rawColumns+` FROM raw_opportunities
		 WHERE content_hash = '' AND id <> $1 AND status = 'EXTRACTED'
		 ORDER BY id DESC LIMIT $2`,
		excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("unhashed raws: %w", err)
	}
	return out, nil
}

func (s *Store) SetRawHash(ctx context.Context, id int64, hash string) error {
	if _, err := s.q(ctx).Exec(ctx,
		`UPDATE raw_opportunities SET content_hash = $2 WHERE id = $1`, id, hash); err != nil {
		return fmt.Errorf("set raw hash %d: %w", id, err)
	}
	return nil
}

// MarkRawError stores msg on the row. An empty status keeps the current one.
func (s *Store) MarkRawError(ctx context.Context, id int64, status model.RawStatus, msg string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE raw_opportunities
		 SET status = COALESCE(NULLIF($2, ''), status), error_message = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, string(status), msg)
	if err != nil {
		return fmt.Errorf("mark raw %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark raw %d: %w", id, ErrNotFound)
	}
	return nil
}

// PendingRawIDs lists NEW and TRANSLATED rows in id order.
func (s *Store) PendingRawIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT id FROM raw_opportunities
		 WHERE status IN ('NEW', 'TRANSLATED')
		 ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending raws: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("pending raws scan: %w", err)
	}
	return ids, nil
}

// UpsertRaw inserts or refreshes the row keyed by (source_id, external_id).
// Processing fields are left untouched on update.
func (s *Store) UpsertRaw(ctx context.Context, raw *model.RawOpportunity) (bool, error) {
	var inserted bool
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO raw_opportunities (source_id, external_id, source_url, raw_text, published_at, status)
		 VALUES ($1, $2, $3, $4, $5, 'NEW')
		 ON CONFLICT (source_id, external_id) DO UPDATE
		 SET source_url = EXCLUDED.source_url, raw_text = EXCLUDED.raw_text,
		     published_at = EXCLUDED.published_at, updated_at = NOW()
		 RETURNING id, status, (xmax = 0)`,
		raw.SourceID, raw.ExternalID, raw.SourceURL, raw.RawText, raw.PublishedAt,
	).Scan(&raw.ID, &raw.Status, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert raw %d/%s: %w", raw.SourceID, raw.ExternalID, err)
	}
	return inserted, nil
}

// CountRawByStatus counts rows in the given status.
func (s *Store) CountRawByStatus(ctx context.Context, status model.RawStatus) (int64, error) {
	var n int64
	if err := s.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM raw_opportunities WHERE status = $1`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count raws: %w", err)
	}
	return n, nil
}

// ResetRawStatus moves every row in status from back to NEW, clearing the
// error message, and returns the affected ids.
func (s *Store) ResetRawStatus(ctx context.Context, from model.RawStatus) ([]int64, error) {
	rows, err := s.q(ctx).Query(ctx,
		`UPDATE raw_opportunities
		 SET status = 'NEW', error_message = '', updated_at = NOW()
		 WHERE status = $1
		 RETURNING id`, string(from))
	if err != nil {
		return nil, fmt.Errorf("reset raws: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("reset raws scan: %w", err)
	}
	return ids, nil
}
