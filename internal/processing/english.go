package processing

import (
	"context"
	"fmt"
	"strings"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/language"
	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/model"

	"go.uber.org/zap"
)

// ensureEnglish returns English text for raw, translating it when needed, and
// advances the row to TRANSLATED. Text that still does not look English after
// a strict retry is rejected.
func (s *Service) ensureEnglish(ctx context.Context, raw *model.RawOpportunity, modelName string, log *zap.Logger) (string, error) {
	det := s.cfg.Detector

	if raw.TextEN != "" && det.IsEnglish(raw.TextEN) {
		return raw.TextEN, nil
	}

	rawText := strings.TrimSpace(raw.RawText)
	if rawText == "" {
		return "", nil
	}

	if det.IsEnglish(rawText) {
		raw.DetectedLanguage = "en"
		raw.TextEN = rawText
		raw.Status = model.RawTranslated
		if err := s.store.UpdateRaw(ctx, raw); err != nil {
			return "", fmt.Errorf("saving english text: %w", err)
		}
		return raw.TextEN, nil
	}

	if language.ContainsEthiopic(rawText) {
		raw.DetectedLanguage = "am"
	}

	chain, err := s.orderedChain(rawText)
	if err != nil {
		return "", err
	}

	res, provider, err := ai.Run(ctx, chain, log, func(ctx context.Context, p ai.Provider) (*ai.TextResult, error) {
		return p.TranslateToEnglish(ctx, ai.TranslateRequest{
			Text:    rawText,
			Model:   modelName,
			Context: ai.ContextTranslation,
		})
	})
	if err != nil {
		return "", err
	}
	candidate := strings.TrimSpace(res.Text)

	if !det.IsEnglish(candidate) {
		log.Debug("translation did not look english, retrying with strict prompt",
			logger.Provider(provider.Name()),
			zap.String("preview", logger.TruncateForLog(candidate, 120)),
		)
		retry, err := provider.GenerateText(ctx, ai.TextRequest{
			System:      ai.StrictTranslationSystemPrompt,
			Prompt:      "Translate this into English:\n\n" + rawText,
			Model:       modelName,
			Temperature: ai.Temperature(0),
			Context:     ai.ContextTranslation,
		})
		if err != nil {
			return "", err
		}
		candidate = strings.TrimSpace(retry.Text)
	}

	if !det.IsEnglish(candidate) {
		return "", ai.Permanentf(provider.Name(), "translation did not produce English text, refusing to extract")
	}

	raw.TextEN = candidate
	raw.Status = model.RawTranslated
	if err := s.store.UpdateRaw(ctx, raw); err != nil {
		return "", fmt.Errorf("saving translation: %w", err)
	}
	return raw.TextEN, nil
}
