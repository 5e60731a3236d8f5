// Package secrets resolves API keys given inline or through files.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes where a secret comes from. File takes precedence over
// Value when both are set.
type Source struct {
	// Name is used in error messages.
	Name  string
	Value string
	File  string
}

func (s Source) name() string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	return "secret"
}

func (s Source) read() (string, error) {
	file := strings.TrimSpace(s.File)
	if file == "" {
		return s.Value, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading %s from file %q: %w", s.name(), file, err)
	}
	return string(data), nil
}

func (s Source) missing() error {
	if f := strings.TrimSpace(s.File); f != "" {
		return fmt.Errorf("%s file %q is empty", s.name(), f)
	}
	return fmt.Errorf("%s is not configured", s.name())
}

// Load returns the trimmed secret.
func Load(src Source) (string, error) {
	raw, err := src.read()
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(raw)
	if secret == "" {
		return "", src.missing()
	}
	return secret, nil
}

// LoadList resolves a key list. Inline values are merged with the source,
// and each entry may hold several keys separated by commas or newlines.
// Duplicates are dropped, keeping first-seen order.
func LoadList(src Source, inline ...string) ([]string, error) {
	raw, err := src.read()
	if err != nil {
		return nil, err
	}

	var keys []string
	seen := make(map[string]struct{})
	chunks := append(append([]string(nil), inline...), raw)
	for _, chunk := range chunks {
		for _, key := range Split(chunk) {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, src.missing()
	}
	return keys, nil
}

// Split breaks a comma or newline delimited value into trimmed, non-empty
// parts.
func Split(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
