package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oppfinder/pipeline/internal/dedupe"
	"github.com/oppfinder/pipeline/internal/model"

	"go.uber.org/zap"
)

type dedupeSource struct {
	raw model.RawOpportunity
	opp *model.Opportunity
}

// findDedupeSource looks for an earlier extraction of the same content. It
// prefers an original extraction over a dedupe copy, backfilling hashes of
// legacy rows on the way.
func (s *Service) findDedupeSource(ctx context.Context, raw *model.RawOpportunity, log *zap.Logger) (*dedupeSource, error) {
	if raw.ContentHash == "" {
		return nil, nil
	}

	candidates, err := s.store.ExtractedRawsByHash(ctx, raw.ContentHash, raw.ID, dedupeLookupLimit)
	if err != nil {
		return nil, fmt.Errorf("looking up content hash: %w", err)
	}

	var copySource *dedupeSource
	for _, c := range candidates {
		opp, err := s.linkedOpportunity(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if opp == nil {
			continue
		}
		if !opp.Metadata.IsDedupeCopy() {
			return &dedupeSource{raw: c, opp: opp}, nil
		}
		if copySource == nil {
			copySource = &dedupeSource{raw: c, opp: opp}
		}
	}

	legacy, err := s.store.UnhashedExtractedRaws(ctx, raw.ID, s.cfg.LegacyScanLimit)
	if err != nil {
		return nil, fmt.Errorf("scanning unhashed raws: %w", err)
	}
	for _, c := range legacy {
		text := strings.TrimSpace(c.TextEN)
		if text == "" {
			text = strings.TrimSpace(c.RawText)
		}
		h := dedupe.Hash(text)
		if h == "" || h != raw.ContentHash {
			continue
		}
		if err := s.store.SetRawHash(ctx, c.ID, h); err != nil {
			return nil, fmt.Errorf("backfilling content hash: %w", err)
		}
		log.Debug("backfilled legacy content hash", zap.Int64("legacy_raw_id", c.ID))

		opp, err := s.linkedOpportunity(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if opp != nil && !opp.Metadata.IsDedupeCopy() {
			c.ContentHash = h
			return &dedupeSource{raw: c, opp: opp}, nil
		}
	}

	// a copy still carries the root ids in its flags
	return copySource, nil
}

func (s *Service) linkedOpportunity(ctx context.Context, rawID int64) (*model.Opportunity, error) {
	opp, err := s.store.OpportunityByRaw(ctx, rawID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading opportunity of raw %d: %w", rawID, err)
	}
	return opp, nil
}

// copyFromSource reuses an earlier extraction for raw without calling a provider.
func (s *Service) copyFromSource(ctx context.Context, raw *model.RawOpportunity, existing *model.Opportunity, src *dedupeSource, textEN string, tax *model.Taxonomy) (*Result, error) {
	opp := existing
	if opp == nil {
		rawID := raw.ID
		opp = &model.Opportunity{RawID: &rawID}
	}

	opp.CopyStructured(src.opp)
	opp.SourceURL = strings.TrimSpace(raw.SourceURL)
	if opp.SourceURL == "" {
		opp.SourceURL = src.opp.SourceURL
	}
	if opp.Deadline == nil {
		opp.Deadline = ParseDeadline(textEN)
	}
	opp.PublishedAt = raw.PublishedAt

	meta := src.opp.Metadata.Clone()
	flags := meta.Section(model.MetaFlags)
	flags[model.FlagDedupeHit] = true
	if flags[model.FlagDedupedFromRawID] == nil {
		flags[model.FlagDedupedFromRawID] = src.raw.ID
	}
	if flags[model.FlagDedupedFromOpportunity] == nil {
		flags[model.FlagDedupedFromOpportunity] = src.opp.ID
	}
	opp.Metadata = meta

	created, err := s.persist(ctx, raw, opp, textEN, tax)
	if err != nil {
		return nil, err
	}
	return &Result{RawID: raw.ID, OpportunityID: opp.ID, Created: created, Deduped: true}, nil
}
