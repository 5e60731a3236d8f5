package ingestion

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/oppfinder/pipeline/internal/model"
)

// RawStore persists fetched items.
type RawStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	// UpsertRaw inserts or refreshes the row keyed by (source, external id)
	// and reports whether it was created.
	UpsertRaw(ctx context.Context, raw *model.RawOpportunity) (bool, error)
}

type WriteResult struct {
	Created    int
	Updated    int
	CreatedIDs []int64
}

// ExternalID returns the adapter supplied id or derives a stable one from the
// item URL, falling back to its text.
func ExternalID(item RawItem) string {
	if id := strings.TrimSpace(item.ExternalID); id != "" {
		return id
	}
	key := "text:" + strings.TrimSpace(item.RawText)
	if u := strings.TrimSpace(item.SourceURL); u != "" {
		key = "url:" + u
	}
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Write upserts items for src in one transaction.
func Write(ctx context.Context, store RawStore, src model.Source, items []RawItem) (WriteResult, error) {
	var res WriteResult
	if len(items) == 0 {
		return res, nil
	}
	err := store.InTx(ctx, func(ctx context.Context) error {
		res = WriteResult{}
		for _, item := range items {
			raw := &model.RawOpportunity{
				SourceID:    src.ID,
				ExternalID:  ExternalID(item),
				SourceURL:   item.SourceURL,
				RawText:     item.RawText,
				PublishedAt: item.PublishedAt,
			}
			created, err := store.UpsertRaw(ctx, raw)
			if err != nil {
				return err
			}
			if created {
				res.Created++
				res.CreatedIDs = append(res.CreatedIDs, raw.ID)
			} else {
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("write items for source %d: %w", src.ID, err)
	}
	return res, nil
}
