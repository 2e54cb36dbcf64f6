package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Normalize prepares a fragment text for similarity comparison: trimmed of
// surrounding whitespace and lowercased.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity returns a score in [0,1] for two already-normalized strings
// using the Levenshtein ratio 1 − lev(a,b)/max(len(a),len(b)), measured in
// runes. Identical strings score 1; strings with no characters in common
// score 0.
func Similarity(a, b string) float64 {
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	maxLen := max(la, lb)
	if maxLen == 0 {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	if dist > maxLen {
		dist = maxLen
	}
	return 1 - float64(dist)/float64(maxLen)
}
