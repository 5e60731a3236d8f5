package ai

import (
	"context"

	"github.com/oppfinder/pipeline/internal/logger"

	"go.uber.org/zap"
)

// Attempt is one provider call made by Run.
type Attempt[T any] func(ctx context.Context, p Provider) (T, error)

// Run tries each provider in order until one succeeds. When every provider
// fails it returns the last transient error so callers can retry later, or the
// first non-transient error when nothing was transient.
func Run[T any](ctx context.Context, chain []Provider, log *zap.Logger, attempt Attempt[T]) (T, Provider, error) {
	var zero T
	log = logger.WithFields(log)
	if len(chain) == 0 {
		return zero, nil, Configurationf("", "provider chain is empty")
	}

	var lastTransient, firstPermanent error
	for _, p := range chain {
		if err := ctx.Err(); err != nil {
			return zero, nil, Wrap(KindTransient, "", err, "provider chain interrupted")
		}

		out, err := attempt(ctx, p)
		if err == nil {
			return out, p, nil
		}

		kind := KindOf(err)
		log.Warn("provider attempt failed",
			logger.Provider(p.Name()),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)

		if kind == KindTransient {
			lastTransient = err
			continue
		}
		if firstPermanent == nil {
			firstPermanent = err
		}
	}

	if lastTransient != nil {
		return zero, nil, lastTransient
	}
	return zero, nil, firstPermanent
}

// Reorder returns a copy of chain that prefers gemini for non-English text and
// groq for English text when both are present. Other providers keep their
// relative order after the preferred pair.
func Reorder(chain []Provider, english bool) []Provider {
	var gemini, groq Provider
	rest := make([]Provider, 0, len(chain))
	for _, p := range chain {
		switch p.Name() {
		case "gemini":
			gemini = p
		case "groq":
			groq = p
		default:
			rest = append(rest, p)
		}
	}
	if gemini == nil || groq == nil {
		out := make([]Provider, len(chain))
		copy(out, chain)
		return out
	}

	out := make([]Provider, 0, len(chain))
	if english {
		out = append(out, groq, gemini)
	} else {
		out = append(out, gemini, groq)
	}
	return append(out, rest...)
}

// Names lists provider names, mostly for logging.
func Names(chain []Provider) []string {
	names := make([]string, 0, len(chain))
	for _, p := range chain {
		names = append(names, p.Name())
	}
	return names
}
