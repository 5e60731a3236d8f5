package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oppfinder/pipeline/internal/model"

	"github.com/gocolly/colly/v2"
)

const telegramBaseURL = "https://t.me"

// TelegramAdapter scrapes the public web preview of a channel
// (https://t.me/s/<channel>). It needs no credentials but only sees the most
// recent page of posts.
type TelegramAdapter struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
}

type TelegramOption func(*TelegramAdapter)

// WithTelegramBaseURL points the adapter at another host, mostly for tests.
func WithTelegramBaseURL(u string) TelegramOption {
	return func(a *TelegramAdapter) { a.baseURL = strings.TrimRight(u, "/") }
}

func NewTelegramAdapter(userAgent string, timeout time.Duration, opts ...TelegramOption) *TelegramAdapter {
	a := &TelegramAdapter{baseURL: telegramBaseURL, userAgent: userAgent, timeout: timeout}
	if a.userAgent == "" {
		a.userAgent = defaultUserAgent
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// channelName accepts "name", "@name", "t.me/name" and "https://t.me/s/name".
func channelName(identifier string) string {
	id := strings.TrimSpace(identifier)
	id = strings.TrimPrefix(id, "https://")
	id = strings.TrimPrefix(id, "http://")
	id = strings.TrimPrefix(id, "t.me/")
	id = strings.TrimPrefix(id, "s/")
	id = strings.TrimPrefix(id, "@")
	if i := strings.IndexAny(id, "/?#"); i >= 0 {
		id = id[:i]
	}
	return id
}

type telegramPost struct {
	id   int64
	item RawItem
}

func (a *TelegramAdapter) FetchNew(ctx context.Context, src model.Source, since *time.Time, limit int) ([]RawItem, error) {
	if src.Type != model.SourceTelegram {
		return nil, fmt.Errorf("telegram adapter cannot read %s sources", src.Type)
	}
	channel := channelName(src.Identifier)
	if channel == "" {
		return nil, errors.New("telegram source identifier must name a channel")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	c := colly.NewCollector(colly.UserAgent(a.userAgent))
	c.SetRequestTimeout(a.timeout)

	var (
		posts    []telegramPost
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnHTML("div.tgme_widget_message[data-post]", func(e *colly.HTMLElement) {
		post, ok := parseTelegramPost(e)
		if !ok {
			return
		}
		if since != nil && post.item.PublishedAt != nil && !post.item.PublishedAt.After(*since) {
			return
		}
		posts = append(posts, post)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("telegram channel %s: status %d: %w", channel, r.StatusCode, err)
	})

	if err := c.Visit(a.baseURL + "/s/" + channel); err != nil {
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, fmt.Errorf("telegram channel %s: %w", channel, err)
	}
	c.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// newest first, like the history API
	sort.Slice(posts, func(i, j int) bool { return posts[i].id > posts[j].id })
	if len(posts) > limit {
		posts = posts[:limit]
	}
	items := make([]RawItem, len(posts))
	for i, p := range posts {
		items[i] = p.item
	}
	return items, nil
}

func parseTelegramPost(e *colly.HTMLElement) (telegramPost, bool) {
	ref := e.Attr("data-post")
	slash := strings.LastIndex(ref, "/")
	if slash < 0 {
		return telegramPost{}, false
	}
	id, err := strconv.ParseInt(ref[slash+1:], 10, 64)
	if err != nil {
		return telegramPost{}, false
	}

	body, err := e.DOM.Find("div.tgme_widget_message_text").First().Html()
	if err != nil {
		return telegramPost{}, false
	}
	text := htmlToText(body)
	if text == "" {
		return telegramPost{}, false
	}

	var published *time.Time
	if raw := e.ChildAttr("time[datetime]", "datetime"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			t = t.UTC()
			published = &t
		}
	}

	link := e.ChildAttr("a.tgme_widget_message_date", "href")
	if link == "" {
		link = telegramBaseURL + "/" + ref
	}

	return telegramPost{
		id: id,
		item: RawItem{
			ExternalID:  strconv.FormatInt(id, 10),
			SourceURL:   link,
			PublishedAt: published,
			RawText:     text,
		},
	}, true
}
