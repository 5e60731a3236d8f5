// Package dedupe fingerprints posting text so reposts can be recognised
// without another extraction.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

var (
	urlRe    = regexp.MustCompile(`(?i)https?://\S+`)
	handleRe = regexp.MustCompile(`@\w+`)
)

// statusMarkers are removed so a later "closed" repost still hashes like the original.
var statusMarkers = []string{
	"‼️closed‼️",
	"closed",
	"#closed",
	"vacancy filled",
	"position filled",
	"applications closed",
	"application closed",
	"hiring closed",
	"no longer accepting applications",
}

// Normalize lower-cases text and strips links, handles, status markers and punctuation.
func Normalize(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return ""
	}

	t = urlRe.ReplaceAllString(t, " ")
	t = handleRe.ReplaceAllString(t, " ")
	for _, marker := range statusMarkers {
		t = strings.ReplaceAll(t, marker, " ")
	}

	t = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, t)

	return strings.Join(strings.Fields(t), " ")
}

// Hash returns the hex SHA-256 of the normalized text, or "" when nothing is left to hash.
func Hash(text string) string {
	norm := Normalize(text)
	if norm == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
