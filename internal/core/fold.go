package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold normalises a column label for alias matching: diacritics removed,
// lowercased, punctuation and symbols turned into spaces, whitespace
// collapsed and trimmed. "Nº CTE", "n. cte" and "N_CTE" all fold to "n cte".
func Fold(label string) string {
	// Transformers carry state, so each call builds its own chain.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, label)
	if err != nil {
		stripped = label
	}

	var b strings.Builder
	b.Grow(len(stripped))
	gap := false
	for _, r := range strings.ToLower(stripped) {
		if isOrdinalMark(r) || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			gap = true
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte(' ')
		}
		gap = false
		b.WriteRune(r)
	}
	return b.String()
}

// isOrdinalMark matches the ordinal indicators used in "1º envio" and
// "Nº CTE". Unicode classes them as letters.
func isOrdinalMark(r rune) bool {
	return r == 'º' || r == 'ª'
}
