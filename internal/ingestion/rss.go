package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oppfinder/pipeline/internal/model"

	"github.com/mmcdole/gofeed"
)

// RSSAdapter reads a feed whose URL is the source identifier.
type RSSAdapter struct {
	parser *gofeed.Parser
}

func NewRSSAdapter(userAgent string, timeout time.Duration) *RSSAdapter {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	p := gofeed.NewParser()
	p.UserAgent = userAgent
	p.Client = &http.Client{Timeout: timeout}
	return &RSSAdapter{parser: p}
}

func (a *RSSAdapter) FetchNew(ctx context.Context, src model.Source, _ *time.Time, limit int) ([]RawItem, error) {
	if src.Type != model.SourceRSS {
		return nil, fmt.Errorf("rss adapter cannot read %s sources", src.Type)
	}
	if strings.TrimSpace(src.Identifier) == "" {
		return nil, errors.New("rss source identifier must be a feed URL")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	feed, err := a.parser.ParseURLWithContext(src.Identifier, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %s: %w", src.Identifier, err)
	}

	items := make([]RawItem, 0, min(limit, len(feed.Items)))
	for _, entry := range feed.Items {
		body := entry.Content
		if body == "" {
			body = entry.Description
		}
		text := htmlToText(body)
		title := strings.TrimSpace(entry.Title)

		combined := title
		switch {
		case title != "" && text != "":
			combined = title + "\n\n" + text
		case title == "":
			combined = text
		}
		if combined == "" {
			continue
		}

		published := entry.PublishedParsed
		if published == nil {
			published = entry.UpdatedParsed
		}

		externalID := strings.TrimSpace(entry.GUID)
		if externalID == "" {
			externalID = strings.TrimSpace(entry.Link)
		}
		sourceURL := strings.TrimSpace(entry.Link)
		if sourceURL == "" {
			sourceURL = src.Identifier
		}

		items = append(items, RawItem{
			ExternalID:  externalID,
			SourceURL:   sourceURL,
			PublishedAt: published,
			RawText:     combined,
		})
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}
