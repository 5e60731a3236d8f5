package ai

import (
	"errors"
	"testing"
)

func TestRouterChainDefaultsToProvider(t *testing.T) {
	r := NewRouter("Groq", nil, map[string]Factory{
		"groq": func() (Provider, error) { return &fakeProvider{name: "groq"}, nil },
	})

	chain, err := r.Chain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chain) != 1 || chain[0].Name() != "groq" {
		t.Fatalf("unexpected chain: %v", Names(chain))
	}
}

func TestRouterChainDeduplicates(t *testing.T) {
	built := 0
	r := NewRouter("stub", []string{" gemini", "GEMINI", "stub", ""}, map[string]Factory{
		"gemini": func() (Provider, error) { built++; return &fakeProvider{name: "gemini"}, nil },
		"stub":   func() (Provider, error) { return &fakeProvider{name: "stub"}, nil },
	})

	if got := r.ChainNames(); !equalNames(got, []string{"gemini", "stub"}) {
		t.Fatalf("unexpected chain names: %v", got)
	}

	for i := 0; i < 2; i++ {
		if _, err := r.Chain(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if built != 1 {
		t.Fatalf("expected provider to be built once, got %d", built)
	}
}

func TestRouterUnknownProvider(t *testing.T) {
	r := NewRouter("openai", nil, map[string]Factory{})
	_, err := r.Default()
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRouterFactoryFailureFailsChain(t *testing.T) {
	boom := errors.New("api key missing")
	r := NewRouter("stub", []string{"stub", "gemini"}, map[string]Factory{
		"stub":   func() (Provider, error) { return &fakeProvider{name: "stub"}, nil },
		"gemini": func() (Provider, error) { return nil, boom },
	})

	_, err := r.Chain()
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped factory error, got %v", err)
	}
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration kind, got %s", KindOf(err))
	}
}
