package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oppfinder/pipeline/internal/ai"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{BaseURL: srv.URL, Model: "tiny"}, srv.Client())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return p
}

func TestGenerateJSONSendsSchemaAsFormat(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["relevance_score"]}`)

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["model"] != "tiny" || body["stream"] != false {
			t.Errorf("unexpected request %v", body)
		}
		format, _ := body["format"].(map[string]any)
		if format["type"] != "object" {
			t.Errorf("expected schema as format, got %v", body["format"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"tiny","response":"{\"relevance_score\": 6}","done":true,"prompt_eval_count":10,"eval_count":5}`))
	})

	res, err := p.GenerateJSON(context.Background(), ai.JSONRequest{Prompt: "rank", Schema: schema})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Data["relevance_score"] != float64(6) {
		t.Fatalf("unexpected data %v", res.Data)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"loading model"}`))
	})

	_, err := p.GenerateText(context.Background(), ai.TextRequest{Prompt: "hi"})
	if !ai.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestMissingModelIsConfiguration(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'tiny' not found"}`))
	})

	_, err := p.TranslateToEnglish(context.Background(), ai.TranslateRequest{Text: "hola"})
	if !ai.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
