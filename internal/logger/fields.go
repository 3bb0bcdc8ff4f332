package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldCandidate is the structured log field key for the candidate identifier.
	FieldCandidate = "candidate_id"
	// FieldPosition is the structured log field key for the selected position.
	FieldPosition = "position_id"
	// FieldStage is the structured log field key for the workflow stage.
	FieldStage = "stage"
	// FieldProvider is the structured log field key for the speech provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the speech model identifier.
	FieldModel = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// If the logger is nil or no fields are supplied, the input logger is returned
// unchanged, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// CandidateFields describes where a candidate is in the flow. Values that are
// not known yet are left out.
func CandidateFields(candidateID, positionID, stage string) []zap.Field {
	return StringFields(
		StringField{Key: FieldCandidate, Value: candidateID},
		StringField{Key: FieldPosition, Value: positionID},
		StringField{Key: FieldStage, Value: stage},
	)
}

// SpeechFields returns the fields that describe the synthesizer in use.
func SpeechFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}
