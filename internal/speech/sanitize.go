// Package speech turns status messages into audible speech.
package speech

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sanitize prepares text for a TTS engine: NFC-normalized, control
// characters removed, whitespace collapsed.
func Sanitize(text string) string {
	t := transform.Chain(norm.NFC, runes.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return ' '
		}
		return r
	}), runes.Remove(runes.In(unicode.Cc)))
	result, _, err := transform.String(t, text)
	if err != nil {
		result = text
	}
	return strings.Join(strings.Fields(result), " ")
}
