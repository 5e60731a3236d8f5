// Package ingestion fetches postings from external sources and stores them as
// raw opportunities.
package ingestion

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oppfinder/pipeline/internal/model"

	"github.com/microcosm-cc/bluemonday"
)

const (
	defaultLimit     = 20
	defaultTimeout   = 20 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// RawItem is one posting as returned by an adapter, before it is stored.
type RawItem struct {
	ExternalID  string
	SourceURL   string
	PublishedAt *time.Time
	RawText     string
}

// Adapter fetches items newer than since from one source. since is nil on
// the first run.
type Adapter interface {
	FetchNew(ctx context.Context, src model.Source, since *time.Time, limit int) ([]RawItem, error)
}

// Registry maps source types to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.SourceType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.SourceType]Adapter)}
}

func (r *Registry) Register(typ model.SourceType, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[typ] = a
}

func (r *Registry) Adapter(typ model.SourceType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[typ]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source type %s", typ)
	}
	return a, nil
}

var (
	stripPolicy = bluemonday.StrictPolicy()
	breakTags   = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// htmlToText strips markup while keeping line breaks.
func htmlToText(s string) string {
	s = breakTags.ReplaceAllString(s, "$0\n")
	s = html.UnescapeString(stripPolicy.Sanitize(s))

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
