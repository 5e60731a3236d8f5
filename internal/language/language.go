// Package language holds cheap script heuristics used to decide whether a
// posting needs translation.
package language

import (
	"strings"
	"unicode"
)

const (
	DefaultMinAlpha      = 20
	DefaultMinLatinRatio = 0.7
)

// Detector decides whether text is probably English. Thresholds are tunable.
type Detector struct {
	// MinAlpha is the number of letters needed before the ratio is trusted.
	MinAlpha int
	// MinLatinRatio is the share of ASCII letters among all letters.
	MinLatinRatio float64
}

// Default returns a Detector with the stock thresholds.
func Default() Detector {
	return Detector{MinAlpha: DefaultMinAlpha, MinLatinRatio: DefaultMinLatinRatio}
}

func (d Detector) withDefaults() Detector {
	if d.MinAlpha <= 0 {
		d.MinAlpha = DefaultMinAlpha
	}
	if d.MinLatinRatio <= 0 {
		d.MinLatinRatio = DefaultMinLatinRatio
	}
	return d
}

// ContainsEthiopic reports whether text has any character of the Ethiopic block.
func ContainsEthiopic(text string) bool {
	return strings.IndexFunc(text, isEthiopic) >= 0
}

func isEthiopic(r rune) bool { return r >= 0x1200 && r <= 0x137F }

// IsEnglish reports whether text looks like English. Short text is never
// trusted, and any Ethiopic character rules English out.
func (d Detector) IsEnglish(text string) bool {
	d = d.withDefaults()

	text = strings.TrimSpace(text)
	if text == "" || ContainsEthiopic(text) {
		return false
	}

	alpha, latin := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		alpha++
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			latin++
		}
	}
	if alpha < d.MinAlpha {
		return false
	}
	return float64(latin)/float64(alpha) >= d.MinLatinRatio
}

// Code returns a coarse language code for storage: "en", "am" or "".
func (d Detector) Code(text string) string {
	switch {
	case ContainsEthiopic(text):
		return "am"
	case d.IsEnglish(text):
		return "en"
	default:
		return ""
	}
}
