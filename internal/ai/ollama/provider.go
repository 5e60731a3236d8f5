// Package ollama runs the provider contract against a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/logger"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const (
	providerName   = "ollama"
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.1"
	defaultTimeout = 120 * time.Second
)

type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type Provider struct {
	cfg    Config
	api    *api.Client
	usage  *ai.UsageRecorder
	logger *zap.Logger
}

type Option func(*Provider)

func WithUsage(r *ai.UsageRecorder) Option { return func(p *Provider) { p.usage = r } }

func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = logger.WithFields(l) }
}

func New(cfg Config, httpClient *http.Client, opts ...Option) (*Provider, error) {
	if cfg.BaseURL = strings.TrimSpace(cfg.BaseURL); cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, ai.Configurationf(providerName, "invalid base url %q: %v", cfg.BaseURL, err)
	}

	p := &Provider{
		cfg:    cfg,
		api:    api.NewClient(u, httpClient),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.ForProvider(p.logger, providerName, cfg.Model)
	return p, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) GenerateText(ctx context.Context, req ai.TextRequest) (*ai.TextResult, error) {
	model := p.model(req.Model)
	start := time.Now()
	text, tokens, err := p.generate(ctx, model, req.System, req.Prompt, p.temperature(req.Temperature), nil)
	p.record(ctx, ai.UsageRecord{
		Model: model, Operation: ai.OperationText, Context: req.Context, UserID: req.UserID,
		PromptLength: utf8.RuneCountInString(req.Prompt), ResponseLength: utf8.RuneCountInString(text),
		TokensUsed: tokens, Duration: time.Since(start),
	}, err)
	if err != nil {
		return nil, err
	}
	return &ai.TextResult{Text: text, Model: model, Raw: text}, nil
}

func (p *Provider) GenerateJSON(ctx context.Context, req ai.JSONRequest) (*ai.JSONResult, error) {
	model := p.model(req.Model)
	prompt := ai.JSONPrompt(req.Prompt, req.Schema)
	format := json.RawMessage(`"json"`)
	if len(req.Schema) > 0 {
		format = req.Schema
	}

	start := time.Now()
	text, tokens, err := p.generate(ctx, model, req.System, prompt, p.temperature(req.Temperature), format)
	var data map[string]any
	if err == nil {
		data, err = ai.DecodeJSON(ctx, providerName, req.Schema, text)
	}
	p.record(ctx, ai.UsageRecord{
		Model: model, Operation: ai.OperationJSON, Context: req.Context, UserID: req.UserID,
		PromptLength: utf8.RuneCountInString(prompt), ResponseLength: utf8.RuneCountInString(text),
		TokensUsed: tokens, Duration: time.Since(start),
	}, err)
	if err != nil {
		return nil, err
	}
	return &ai.JSONResult{Data: data, Model: model, Raw: text}, nil
}

func (p *Provider) TranslateToEnglish(ctx context.Context, req ai.TranslateRequest) (*ai.TextResult, error) {
	model := p.model(req.Model)
	start := time.Now()
	text, tokens, err := p.generate(ctx, model, req.SystemPrompt(), req.Text, 0, nil)
	usageCtx := req.Context
	if usageCtx == "" {
		usageCtx = ai.ContextTranslation
	}
	p.record(ctx, ai.UsageRecord{
		Model: model, Operation: ai.OperationTranslation, Context: usageCtx,
		PromptLength: utf8.RuneCountInString(req.Text), ResponseLength: utf8.RuneCountInString(text),
		TokensUsed: tokens, Duration: time.Since(start),
	}, err)
	if err != nil {
		return nil, err
	}
	return &ai.TextResult{Text: text, Model: model, Raw: text}, nil
}

func (p *Provider) model(requested string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return p.cfg.Model
}

func (p *Provider) temperature(t *float64) float64 {
	if t != nil {
		return *t
	}
	return p.cfg.Temperature
}

func (p *Provider) record(ctx context.Context, rec ai.UsageRecord, err error) {
	rec.Provider = providerName
	rec.Success = err == nil
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	p.usage.Record(ctx, rec)
}

func (p *Provider) generate(ctx context.Context, model, system, prompt string, temperature float64, format json.RawMessage) (string, int, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", 0, ai.Permanentf(providerName, "prompt must not be empty")
	}

	stream := false
	req := &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  system,
		Format:  format,
		Stream:  &stream,
		Options: map[string]any{"temperature": temperature},
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var builder strings.Builder
	tokens := 0
	err := p.api.Generate(ctx, req, func(r api.GenerateResponse) error {
		builder.WriteString(r.Response)
		if r.Done {
			tokens = r.PromptEvalCount + r.EvalCount
		}
		return nil
	})
	if err != nil {
		return "", 0, classify(err)
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", 0, ai.Transientf(providerName, "empty response")
	}
	p.logger.Debug("ollama generate", zap.Int("response_length", utf8.RuneCountInString(text)))
	return text, tokens, nil
}

func classify(err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		msg := fmt.Sprintf("status %d: %s", status.StatusCode, status.ErrorMessage)
		switch {
		case status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500:
			return ai.Transientf(providerName, "%s", msg)
		case status.StatusCode == http.StatusNotFound:
			return ai.Configurationf(providerName, "%s", msg)
		default:
			return ai.Permanentf(providerName, "%s", msg)
		}
	}
	return ai.Wrap(ai.KindTransient, providerName, err, "request failed")
}
