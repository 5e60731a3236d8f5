package ai

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a provider. It should return a configuration error when
// credentials are missing.
type Factory func() (Provider, error)

// Router resolves providers by name and exposes the configured fallback chain.
type Router struct {
	defaultName string
	chain       []string
	factories   map[string]Factory

	mu        sync.Mutex
	providers map[string]Provider
}

// NewRouter creates a Router. An empty chain falls back to the default provider.
func NewRouter(defaultName string, chain []string, factories map[string]Factory) *Router {
	defaultName = normalizeName(defaultName)
	if defaultName == "" {
		defaultName = "stub"
	}

	names := make([]string, 0, len(chain))
	seen := make(map[string]struct{}, len(chain))
	for _, n := range chain {
		n = normalizeName(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	if len(names) == 0 {
		names = []string{defaultName}
	}

	normalized := make(map[string]Factory, len(factories))
	for name, f := range factories {
		normalized[normalizeName(name)] = f
	}

	return &Router{
		defaultName: defaultName,
		chain:       names,
		factories:   normalized,
		providers:   make(map[string]Provider),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Provider returns the named provider, constructing it on first use.
func (r *Router) Provider(name string) (Provider, error) {
	name = normalizeName(name)
	if name == "" {
		name = r.defaultName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		known := make([]string, 0, len(r.factories))
		for k := range r.factories {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, Configurationf("", "unknown AI provider %q, expected one of %s", name, strings.Join(known, "|"))
	}

	p, err := factory()
	if err != nil {
		return nil, Wrap(KindConfiguration, name, err, "construct provider")
	}
	r.providers[name] = p
	return p, nil
}

// Default returns the provider named by the default setting.
func (r *Router) Default() (Provider, error) {
	return r.Provider(r.defaultName)
}

// ChainNames returns the configured chain order.
func (r *Router) ChainNames() []string {
	out := make([]string, len(r.chain))
	copy(out, r.chain)
	return out
}

// Chain resolves every provider of the chain. Any misconfigured entry fails the
// whole chain so callers never silently run with fewer providers than configured.
func (r *Router) Chain() ([]Provider, error) {
	out := make([]Provider, 0, len(r.chain))
	for _, name := range r.chain {
		p, err := r.Provider(name)
		if err != nil {
			return nil, fmt.Errorf("resolve provider chain: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
