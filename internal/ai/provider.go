// Package ai defines the provider-agnostic contract used by the extraction and
// matching pipelines, plus the fallback chain that iterates providers.
package ai

import (
	"context"
	"encoding/json"
)

// Operation names recorded in usage records.
const (
	OperationText        = "text_generation"
	OperationJSON        = "json_generation"
	OperationTranslation = "translation"
)

// Business contexts recorded in usage records.
const (
	ContextExtraction  = "extraction"
	ContextMatching    = "matching"
	ContextTranslation = "translation"
	ContextSystem      = "system"
	ContextOther       = "other"
)

// TextRequest describes a free-text generation call.
type TextRequest struct {
	Prompt      string
	System      string
	Model       string
	Temperature *float64
	// Context and UserID only feed usage accounting.
	Context string
	UserID  *int64
}

// JSONRequest describes a schema-constrained generation call.
type JSONRequest struct {
	Prompt      string
	Schema      json.RawMessage
	System      string
	Model       string
	Temperature *float64
	Context     string
	UserID      *int64
}

// TranslateRequest asks for an English rendition of Text.
type TranslateRequest struct {
	Text  string
	Model string
	// System overrides TranslationSystemPrompt when set.
	System  string
	Context string
}

// SystemPrompt returns the instruction to send with the translation call.
func (r TranslateRequest) SystemPrompt() string {
	if r.System != "" {
		return r.System
	}
	return TranslationSystemPrompt
}

type TextResult struct {
	Text  string
	Model string
	Raw   any
}

type JSONResult struct {
	Data  map[string]any
	Model string
	Raw   any
}

// Provider is implemented by every AI backend.
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, req TextRequest) (*TextResult, error)
	GenerateJSON(ctx context.Context, req JSONRequest) (*JSONResult, error)
	TranslateToEnglish(ctx context.Context, req TranslateRequest) (*TextResult, error)
}

// Temperature is a convenience for building requests.
func Temperature(v float64) *float64 { return &v }

// TranslationSystemPrompt is the instruction shared by providers for translation calls.
const TranslationSystemPrompt = "You are a translation engine. Translate the user's text to English. " +
	"Preserve names, numbers, dates, URLs and formatting. Return only the translated text."

// StrictTranslationSystemPrompt is used when a first translation still did not look English.
const StrictTranslationSystemPrompt = TranslationSystemPrompt +
	" The output MUST be written entirely in English using Latin script. Do not copy the source text."

// JSONPrompt frames a prompt so the model answers with schema-shaped JSON only.
func JSONPrompt(prompt string, schema json.RawMessage) string {
	return "Return ONLY valid JSON that matches this JSON schema (no markdown, no extra text).\n" +
		"SCHEMA:\n" + string(schema) + "\n\nINPUT:\n" + prompt
}
