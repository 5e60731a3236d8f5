package gemini

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/oppfinder/pipeline/internal/ai"
)

// KeyPool hands out API keys. Keys start in random rotation; once any key is
// marked exhausted the pool switches to round-robin over the remaining ones.
type KeyPool struct {
	mu        sync.Mutex
	keys      []string
	exhausted map[string]struct{}
	next      int
	intn      func(n int) int
}

// NewKeyPool trims and de-duplicates keys, keeping their order.
func NewKeyPool(keys []string) *KeyPool {
	seen := make(map[string]struct{}, len(keys))
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, k)
	}
	return &KeyPool{
		keys:      clean,
		exhausted: make(map[string]struct{}),
		intn:      rand.IntN,
	}
}

func (p *KeyPool) Len() int { return len(p.keys) }

// Next returns the key to use for the next call.
func (p *KeyPool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", ai.Configurationf(providerName, "no Gemini API keys configured")
	}

	if len(p.exhausted) == 0 {
		return p.keys[p.intn(len(p.keys))], nil
	}

	if len(p.exhausted) >= len(p.keys) {
		return "", ai.Permanentf(providerName,
			"All %d Gemini API keys exhausted. Keys exhausted: %d", len(p.keys), len(p.exhausted))
	}

	for i := 0; i < len(p.keys); i++ {
		idx := (p.next + i) % len(p.keys)
		key := p.keys[idx]
		if _, dead := p.exhausted[key]; dead {
			continue
		}
		p.next = idx + 1
		return key, nil
	}
	return "", ai.Permanentf(providerName, "All %d Gemini API keys exhausted", len(p.keys))
}

// MarkExhausted removes key from rotation for the lifetime of the pool.
func (p *KeyPool) MarkExhausted(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exhausted[key] = struct{}{}
}

// Identifier returns a stable, non-secret label such as key_2.
func (p *KeyPool) Identifier(key string) string {
	for i, k := range p.keys {
		if k == key {
			return fmt.Sprintf("key_%d", i+1)
		}
	}
	return "key_unknown"
}
