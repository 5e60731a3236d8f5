package ai

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/utils"

	"go.uber.org/zap"
)

const (
	maxUsageErrorLen = 1000
	maxMaskedKeyLen  = 50
)

// UsageRecord describes one outbound AI call for quota accounting.
type UsageRecord struct {
	Provider       string
	Model          string
	Operation      string
	Context        string
	UserID         *int64
	PromptLength   int
	ResponseLength int
	TokensUsed     int
	Success        bool
	ErrorMessage   string
	APIKeyMasked   string
	Duration       time.Duration
	CreatedAt      time.Time
}

// UsageSink persists usage records.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// UsageRecorder writes records to a sink and swallows sink failures.
type UsageRecorder struct {
	sink UsageSink
	log  *zap.Logger
}

func NewUsageRecorder(sink UsageSink, log *zap.Logger) *UsageRecorder {
	return &UsageRecorder{sink: sink, log: logger.WithFields(log)}
}

// Record normalizes rec and hands it to the sink. It never returns an error.
func (r *UsageRecorder) Record(ctx context.Context, rec UsageRecord) {
	if r == nil || r.sink == nil {
		return
	}
	if rec.Context == "" {
		rec.Context = ContextOther
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ErrorMessage = utils.Truncate(rec.ErrorMessage, maxUsageErrorLen)
	rec.APIKeyMasked = utils.Truncate(rec.APIKeyMasked, maxMaskedKeyLen)

	// the caller's context may already be cancelled by the time the call failed
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.sink.RecordUsage(writeCtx, rec); err != nil {
		r.log.Warn("recording ai usage",
			logger.Provider(rec.Provider),
			zap.String(logger.FieldOperation, rec.Operation),
			zap.Error(err),
		)
	}
}

// MaskKey keeps the first and last four characters of a credential.
func MaskKey(key string) string {
	if utf8.RuneCountInString(key) <= 8 {
		return "***"
	}
	r := []rune(key)
	return string(r[:4]) + "..." + string(r[len(r)-4:])
}
