package processing

import (
	"encoding/json"

	"github.com/oppfinder/pipeline/internal/model"
)

// extractionSchema constrains the provider answer to ids from the taxonomy
// and the known enum values.
var extractionSchema = mustSchema(map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required": []string{
		"title", "op_type_id", "domain_id", "specialization_id", "work_mode",
		"employment_type", "experience_level", "deadline", "min_compensation",
		"max_compensation", "location_id", "organization", "source_url",
		"description_en", "confidence",
	},
	"properties": map[string]any{
		"title":             map[string]any{"type": "string"},
		"organization":      map[string]any{"type": []string{"string", "null"}},
		"source_url":        map[string]any{"type": []string{"string", "null"}},
		"description_en":    map[string]any{"type": []string{"string", "null"}},
		"op_type_id":        map[string]any{"type": "integer", "minimum": 1},
		"domain_id":         map[string]any{"type": "integer", "minimum": 1},
		"specialization_id": map[string]any{"type": "integer", "minimum": 1},
		"location_id":       map[string]any{"type": []string{"integer", "null"}, "minimum": 1},
		"work_mode":         map[string]any{"type": "string", "enum": model.OpportunityWorkModes},
		"employment_type":   map[string]any{"type": "string", "enum": model.OpportunityEmploymentTypes},
		"experience_level":  map[string]any{"type": "string", "enum": model.OpportunityExperienceLevels},
		"deadline":          map[string]any{"type": []string{"string", "null"}, "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"min_compensation":  map[string]any{"type": []string{"integer", "null"}},
		"max_compensation":  map[string]any{"type": []string{"integer", "null"}},
		"applicant_gender": map[string]any{
			"type": []string{"string", "null"},
			"enum": []any{"FEMALE", "MALE", "ANY", "UNKNOWN", nil},
		},
		"employment_subtype": map[string]any{"type": []string{"string", "null"}},
		"compensation": map[string]any{
			"type":                 []string{"object", "null"},
			"additionalProperties": false,
			"required":             []string{"amount", "currency", "period"},
			"properties": map[string]any{
				"amount":   map[string]any{"type": []string{"integer", "null"}},
				"currency": map[string]any{"type": []string{"string", "null"}},
				"period": map[string]any{
					"type": []string{"string", "null"},
					"enum": []any{"MONTH", "YEAR", "WEEK", "DAY", "ONE_TIME", "UNKNOWN", nil},
				},
			},
		},
		"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		"notes":      map[string]any{"type": []string{"string", "null"}},
	},
})

func mustSchema(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
