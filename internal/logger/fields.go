package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Structured field keys shared by the pipeline stages.
const (
	FieldProvider  = "ai_provider"
	FieldModel     = "ai_model"
	FieldOperation = "ai_operation"

	FieldRawID         = "raw_id"
	FieldOpportunityID = "opportunity_id"
	FieldUserID        = "user_id"
	FieldSource        = "source"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the pairs into zap fields, trimming whitespace and
// omitting entries with an empty key or value.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		value := strings.TrimSpace(field.Value)
		if key == "" || value == "" {
			continue
		}
		result = append(result, zap.String(key, value))
	}
	return result
}

// WithFields attaches fields to the logger. A nil logger becomes a no-op one.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// ForProvider scopes a logger to an AI provider and its default model.
func ForProvider(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}

func Provider(name string) zap.Field { return zap.String(FieldProvider, name) }

func RawID(id int64) zap.Field { return zap.Int64(FieldRawID, id) }

func OpportunityID(id int64) zap.Field { return zap.Int64(FieldOpportunityID, id) }

func UserID(id int64) zap.Field { return zap.Int64(FieldUserID, id) }
