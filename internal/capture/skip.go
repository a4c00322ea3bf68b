package capture

import (
	"strings"
	"unicode"
)

// Longer phrases first so "i don't know" is removed before any shorter
// phrase could split it.
var skipPhrases = []string{
	"i don't know",
	"i dont know",
	"don't know",
	"not sure",
	"no idea",
	"skip",
	"next",
	"pass",
}

// IsSkipIntent reports whether transcript consists only of skip phrases,
// ignoring case and punctuation.
func IsSkipIntent(transcript string) bool {
	s := normalizeTranscript(transcript)
	if s == "" {
		return false
	}

	removed := false
	for _, p := range skipPhrases {
		if strings.Contains(s, p) {
			s = strings.ReplaceAll(s, p, " ")
			removed = true
		}
	}
	return removed && strings.TrimSpace(s) == ""
}

func normalizeTranscript(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	s = strings.Map(func(r rune) rune {
		if r == '\'' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
