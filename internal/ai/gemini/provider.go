package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/throttle"
	"github.com/oppfinder/pipeline/internal/utils"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	providerName = "gemini"

	defaultModel        = "gemini-2.5-flash"
	defaultTemperature  = 0.2
	defaultTimeout      = 60 * time.Second
	defaultCooldown     = 60 * time.Second
	defaultMaxLogLength = 200
	// DefaultRPMLimit is the free-tier request budget per minute.
	DefaultRPMLimit = 15
)

// retryBackoffs is the local retry schedule for network and 5xx failures.
var retryBackoffs = []time.Duration{0, 500 * time.Millisecond, time.Second, 2 * time.Second}

var sleep = utils.WaitFor

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type clientFactory func(ctx context.Context, apiKey string) (contentGenerator, error)

// Config holds the provider settings.
type Config struct {
	APIKeys         []string
	Model           string
	Temperature     float64
	Timeout         time.Duration
	DefaultCooldown time.Duration
	MaxLogLength    int
}

// Provider talks to the Gemini API through the genai SDK. Every call passes the
// injected throttle, which is where rate limits and the cluster-wide lock live.
type Provider struct {
	cfg      Config
	keys     *KeyPool
	throttle throttle.Throttle
	usage    *ai.UsageRecorder
	logger   *zap.Logger

	newClient clientFactory
	mu        sync.Mutex
	clients   map[string]contentGenerator
}

type Option func(*Provider)

func WithThrottle(t throttle.Throttle) Option {
	return func(p *Provider) {
		if t != nil {
			p.throttle = t
		}
	}
}

func WithUsage(r *ai.UsageRecorder) Option {
	return func(p *Provider) { p.usage = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = logger.WithFields(l) }
}

// New validates cfg and builds a Provider. Without WithThrottle calls are not throttled.
func New(cfg Config, opts ...Option) (*Provider, error) {
	keys := NewKeyPool(cfg.APIKeys)
	if keys.Len() == 0 {
		return nil, ai.Configurationf(providerName, "gemini api key is required")
	}

	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = defaultCooldown
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = defaultMaxLogLength
	}

	p := &Provider{
		cfg:       cfg,
		keys:      keys,
		throttle:  throttle.Nop{},
		logger:    zap.NewNop(),
		newClient: sdkClientFactory(cfg.Timeout),
		clients:   make(map[string]contentGenerator),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.ForProvider(p.logger, providerName, cfg.Model)
	return p, nil
}

func sdkClientFactory(timeout time.Duration) clientFactory {
	return func(ctx context.Context, apiKey string) (contentGenerator, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: &http.Client{Timeout: timeout},
		})
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		return client.Models, nil
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) GenerateText(ctx context.Context, req ai.TextRequest) (*ai.TextResult, error) {
	model := p.model(req.Model)
	config := p.generationConfig(req.System, req.Temperature)

	text, keyID, tokens, start, err := p.generate(ctx, model, req.Prompt, config)
	p.record(ctx, ai.UsageRecord{
		Model: model, Operation: ai.OperationText, Context: req.Context, UserID: req.UserID,
		PromptLength: utf8.RuneCountInString(req.Prompt), ResponseLength: utf8.RuneCountInString(text),
		TokensUsed: tokens, APIKeyMasked: keyID, Duration: time.Since(start),
	}, err)
	if err != nil {
		return nil, err
	}
	return &ai.TextResult{Text: text, Model: model, Raw: text}, nil
}

func (p *Provider) GenerateJSON(ctx context.Context, req ai.JSONRequest) (*ai.JSONResult, error) {
	model := p.model(req.Model)
	prompt := ai.JSONPrompt(req.Prompt, req.Schema)
	config := p.generationConfig(req.System, req.Temperature)
	config.ResponseMIMEType = "application/json"

	text, keyID, tokens, start, err := p.generate(ctx, model, prompt, config)
	var data map[string]any
	if err == nil {
		data, err = ai.DecodeJSON(ctx, providerName, req.Schema, text)
	}
	p.record(ctx, ai.UsageRecord{
		Model: model, Operation: ai.OperationJSON, Context: req.Context, UserID: req.UserID,
		PromptLength: utf8.RuneCountInString(prompt), ResponseLength: utf8.RuneCountInString(text),
		TokensUsed: tokens, APIKeyMasked: keyID, Duration: time.Since(start),
	}, err)
	if err != nil {
		return nil, err
	}
	return &ai.JSONResult{Data: data, Model: model, Raw: text}, nil
}

func (p *Provider) TranslateToEnglish(ctx context.Context, req ai.TranslateRequest) (*ai.TextResult, error) {
	model := p.model(req.Model)
	prompt := "TEXT:\n" + req.Text
	config := p.generationConfig(req.SystemPrompt(), ai.Temperature(0))

	text, keyID, tokens, start, err := p.generate(ctx, model, prompt, config)
	usageCtx := req.Context
	if usageCtx == "" {
		usageCtx = ai.ContextTranslation
	}
	p.record(ctx, ai.UsageRecord{
		Model: model, Operation: ai.OperationTranslation, Context: usageCtx,
		PromptLength: utf8.RuneCountInString(prompt), ResponseLength: utf8.RuneCountInString(text),
		TokensUsed: tokens, APIKeyMasked: keyID, Duration: time.Since(start),
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

func (p *Provider) generationConfig(system string, temperature *float64) *genai.GenerateContentConfig {
	temp := p.cfg.Temperature
	if temperature != nil {
		temp = *temperature
	}
	config := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(temp))}
	if system = strings.TrimSpace(system); system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	return config
}

func (p *Provider) record(ctx context.Context, rec ai.UsageRecord, err error) {
	rec.Provider = providerName
	rec.Success = err == nil
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	p.usage.Record(ctx, rec)
}

// generate rotates keys until one is accepted. Keys rejected by the API are
// dropped from rotation; quota errors are not rotated around because quota is
// usually shared across the account.
func (p *Provider) generate(ctx context.Context, model, prompt string, config *genai.GenerateContentConfig) (text, keyID string, tokens int, start time.Time, err error) {
	start = time.Now()
	if strings.TrimSpace(prompt) == "" {
		return "", "", 0, start, ai.Permanentf(providerName, "prompt must not be empty")
	}

	p.logger.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, p.cfg.MaxLogLength)),
	)

	for {
		key, err := p.keys.Next()
		if err != nil {
			return "", keyID, 0, start, err
		}
		keyID = p.keys.Identifier(key)

		client, err := p.client(ctx, key)
		if err != nil {
			return "", keyID, 0, start, ai.Wrap(ai.KindConfiguration, providerName, err, "create client")
		}

		text, tokens, err = p.callWithRetry(ctx, client, model, prompt, config)
		if err == nil {
			p.logger.Debug("gemini generate content response",
				zap.String("key", keyID),
				zap.Int("response_length", utf8.RuneCountInString(text)),
				zap.String("response_preview", logger.TruncateForLog(text, p.cfg.MaxLogLength)),
			)
			return text, keyID, tokens, start, nil
		}

		var rejected *keyRejectedError
		if errors.As(err, &rejected) {
			p.logger.Warn("gemini api key rejected, removing from rotation", zap.String("key", keyID), zap.Error(rejected.err))
			p.keys.MarkExhausted(key)
			continue
		}
		return "", keyID, 0, start, err
	}
}

type keyRejectedError struct{ err error }

func (e *keyRejectedError) Error() string { return "api key rejected: " + e.err.Error() }
func (e *keyRejectedError) Unwrap() error { return e.err }

func (p *Provider) callWithRetry(ctx context.Context, client contentGenerator, model, prompt string, config *genai.GenerateContentConfig) (string, int, error) {
	var lastErr error
	for attempt, backoff := range retryBackoffs {
		if backoff > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return "", 0, ai.Wrap(ai.KindTransient, providerName, err, "waiting to retry")
			}
		}

		release, err := p.throttle.Acquire(ctx)
		if err != nil {
			var cooling *throttle.CooldownError
			if errors.As(err, &cooling) {
				return "", 0, ai.Transientf(providerName, "rate limited, retry in %.1fs", cooling.Remaining.Seconds())
			}
			return "", 0, ai.Wrap(ai.KindTransient, providerName, err, "throttle")
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		resp, err := client.GenerateContent(callCtx, model, genai.Text(prompt), config)
		cancel()
		release()

		if err == nil {
			text := responseText(resp)
			if text == "" {
				return "", 0, ai.Transientf(providerName, "gemini api returned empty response")
			}
			return text, usageTokens(resp), nil
		}

		if ctx.Err() != nil {
			return "", 0, ai.Wrap(ai.KindTransient, providerName, ctx.Err(), "request cancelled")
		}

		switch classify(err) {
		case failureQuota:
			wait, ok := retryAfter(err.Error())
			if !ok {
				wait = p.cfg.DefaultCooldown
			}
			if cdErr := p.throttle.CoolDown(ctx, wait); cdErr != nil {
				p.logger.Warn("setting gemini cooldown", zap.Error(cdErr))
			}
			p.logger.Warn("gemini quota exhausted, cooling down",
				zap.Duration("cooldown", wait),
				zap.Error(err),
			)
			return "", 0, &ai.Error{Kind: ai.KindTransient, Provider: providerName, Msg: fmt.Sprintf("rate limited, retry in %.1fs", wait.Seconds()), Err: err}
		case failureKeyRejected:
			return "", 0, &keyRejectedError{err: err}
		case failureClient:
			return "", 0, &ai.Error{Kind: ai.KindPermanent, Provider: providerName, Msg: "request rejected", Err: err}
		}

		lastErr = err
		p.logger.Debug("gemini request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return "", 0, &ai.Error{
		Kind:     ai.KindTransient,
		Provider: providerName,
		Msg:      fmt.Sprintf("request failed after %d attempts", len(retryBackoffs)),
		Err:      lastErr,
	}
}

func (p *Provider) client(ctx context.Context, key string) (contentGenerator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := p.newClient(ctx, key)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
		// later candidates are alternatives, not continuations
		break
	}
	return strings.TrimSpace(builder.String())
}

func usageTokens(resp *genai.GenerateContentResponse) int {
	if resp == nil || resp.UsageMetadata == nil {
		return 0
	}
	return int(resp.UsageMetadata.TotalTokenCount)
}
