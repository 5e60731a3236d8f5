// Package groq implements the provider contract over Groq's OpenAI-compatible
// chat completions endpoint.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/logger"

	"go.uber.org/zap"
)

const (
	providerName   = "groq"
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama-3.3-70b-versatile"
	defaultTimeout = 60 * time.Second
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type Provider struct {
	cfg    Config
	client *http.Client
	usage  *ai.UsageRecorder
	logger *zap.Logger
}

type Option func(*Provider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

func WithUsage(r *ai.UsageRecorder) Option { return func(p *Provider) { p.usage = r } }

func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = logger.WithFields(l) }
}

func New(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.APIKey = strings.TrimSpace(cfg.APIKey); cfg.APIKey == "" {
		return nil, ai.Configurationf(providerName, "groq api key is required")
	}
	if cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	p := &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.ForProvider(p.logger, providerName, cfg.Model)
	return p, nil
}

func (p *Provider) Name() string { return providerName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *Provider) GenerateText(ctx context.Context, req ai.TextRequest) (*ai.TextResult, error) {
	model := p.model(req.Model)
	start := time.Now()
	text, tokens, err := p.chat(ctx, model, req.System, req.Prompt, p.temperature(req.Temperature), false)
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
	start := time.Now()
	text, tokens, err := p.chat(ctx, model, req.System, prompt, p.temperature(req.Temperature), true)
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
	text, tokens, err := p.chat(ctx, model, req.SystemPrompt(), req.Text, 0, false)
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
	rec.APIKeyMasked = ai.MaskKey(p.cfg.APIKey)
	rec.Success = err == nil
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	p.usage.Record(ctx, rec)
}

func (p *Provider) chat(ctx context.Context, model, system, prompt string, temperature float64, jsonMode bool) (string, int, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", 0, ai.Permanentf(providerName, "prompt must not be empty")
	}

	messages := make([]message, 0, 2)
	if system = strings.TrimSpace(system); system != "" {
		messages = append(messages, message{Role: "system", Content: system})
	}
	messages = append(messages, message{Role: "user", Content: prompt})

	body := chatRequest{Model: model, Messages: messages, Temperature: temperature}
	if jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", 0, ai.Permanentf(providerName, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", 0, ai.Permanentf(providerName, "build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// timeouts and connection faults alike
		return "", 0, ai.Wrap(ai.KindTransient, providerName, err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", 0, ai.Wrap(ai.KindTransient, providerName, err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		msg := errorMessage(raw)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return "", 0, ai.Transientf(providerName, "status %d: %s", resp.StatusCode, msg)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return "", 0, ai.Configurationf(providerName, "status %d: %s", resp.StatusCode, msg)
		default:
			return "", 0, ai.Permanentf(providerName, "status %d: %s", resp.StatusCode, msg)
		}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, ai.Transientf(providerName, "decode response: %v", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, ai.Transientf(providerName, "response has no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", 0, ai.Transientf(providerName, "empty response")
	}

	p.logger.Debug("groq chat completion",
		zap.Int("status", resp.StatusCode),
		zap.Int("response_length", utf8.RuneCountInString(text)),
	)
	return text, out.Usage.TotalTokens, nil
}

func errorMessage(raw []byte) string {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	if msg == "" {
		return "empty body"
	}
	return msg
}
