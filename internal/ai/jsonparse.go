package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"
)

// ParseObject decodes a model response into a JSON object. Surrounding prose and
// markdown fences are tolerated; a top-level array is unwrapped when its first
// element is an object.
func ParseObject(provider, raw string) (map[string]any, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, Permanentf(provider, "empty JSON response")
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		span, ok := firstBalancedObject(text)
		if !ok {
			return nil, Permanentf(provider, "response is not valid JSON: %s", preview(text))
		}
		if err := json.Unmarshal([]byte(span), &decoded); err != nil {
			return nil, Permanentf(provider, "response is not valid JSON: %s", preview(text))
		}
	}

	switch val := decoded.(type) {
	case map[string]any:
		return val, nil
	case []any:
		if len(val) > 0 {
			if obj, ok := val[0].(map[string]any); ok {
				return obj, nil
			}
		}
		return nil, Transientf(provider, "JSON list without an object")
	default:
		return nil, Permanentf(provider, "JSON is not an object, got %T", decoded)
	}
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

// firstBalancedObject returns the first {...} span whose braces balance,
// ignoring braces inside string literals.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 500 {
		return string(r[:500])
	}
	return s
}

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal(schema, rs); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache.Store(key, rs)
	return rs, nil
}

// ValidateObject checks data against schema. Violations are permanent for the
// provider that produced them.
func ValidateObject(ctx context.Context, provider string, schema json.RawMessage, data map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	rs, err := compileSchema(schema)
	if err != nil {
		return Permanentf(provider, "%v", err)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Permanentf(provider, "re-encode response: %v", err)
	}
	verrs, err := rs.ValidateBytes(ctx, b)
	if err != nil {
		return Permanentf(provider, "validate response: %v", err)
	}
	if len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.PropertyPath, e.Message))
		}
		return Permanentf(provider, "response does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// DecodeJSON parses raw model output and validates it against schema.
func DecodeJSON(ctx context.Context, provider string, schema json.RawMessage, raw string) (map[string]any, error) {
	data, err := ParseObject(provider, raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateObject(ctx, provider, schema, data); err != nil {
		return nil, err
	}
	return data, nil
}
