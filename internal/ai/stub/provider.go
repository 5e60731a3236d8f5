// Package stub is a deterministic provider for development without API keys.
package stub

import (
	"context"
	"encoding/json"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/utils"
)

type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "stub" }

func (p *Provider) GenerateText(_ context.Context, req ai.TextRequest) (*ai.TextResult, error) {
	model := modelOr(req.Model)
	return &ai.TextResult{
		Text:  "[STUB:" + model + "] " + utils.Truncate(req.Prompt, 500),
		Model: model,
		Raw:   map[string]any{"system": req.System},
	}, nil
}

// GenerateJSON returns an object with every top-level schema property set to null.
func (p *Provider) GenerateJSON(_ context.Context, req ai.JSONRequest) (*ai.JSONResult, error) {
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	data := map[string]any{}
	if len(req.Schema) > 0 {
		if err := json.Unmarshal(req.Schema, &schema); err != nil {
			return nil, ai.Permanentf(p.Name(), "invalid schema: %v", err)
		}
		for k := range schema.Properties {
			data[k] = nil
		}
	}
	return &ai.JSONResult{Data: data, Model: modelOr(req.Model), Raw: map[string]any{"system": req.System, "prompt": req.Prompt}}, nil
}

// TranslateToEnglish returns the text unchanged.
func (p *Provider) TranslateToEnglish(_ context.Context, req ai.TranslateRequest) (*ai.TextResult, error) {
	return &ai.TextResult{Text: req.Text, Model: modelOr(req.Model)}, nil
}

func modelOr(m string) string {
	if m == "" {
		return "stub"
	}
	return m
}
